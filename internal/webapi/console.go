package webapi

import (
	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
)

const consoleJS = `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	levels.forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var j = 0; j < arguments.length; j++) {
				var arg = arguments[j];
				if (arg instanceof Uint8Array) {
					parts.push('Uint8Array(' + arg.length + ')');
				} else if (typeof arg === 'object' && arg !== null) {
					try { parts.push(JSON.stringify(arg)); } catch (e) { parts.push(String(arg)); }
				} else {
					parts.push(String(arg));
				}
			}
			__console(lvl, parts.join(' '));
		};
	});
	globalThis.console = con;
})();
`

// SetupConsole routes script console output to logger.
func SetupConsole(rt core.JSRuntime, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "console"))
	if err := rt.RegisterFunc("__console", func(level, message string) {
		switch level {
		case "error":
			logger.Error(message)
		case "warn":
			logger.Warn(message)
		case "debug":
			logger.Debug(message)
		default:
			logger.Info(message)
		}
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}
