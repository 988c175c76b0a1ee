package nativestream

import (
	"errors"
	"io/fs"
)

// LoadEngineConfig loads an optional .env file into the environment and
// then reads configPath on top of the defaults. A missing .env file is not
// an error; either path may be empty.
func LoadEngineConfig(configPath, envPath string) (EngineConfig, error) {
	if envPath != "" {
		if err := LoadEnvFile(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return EngineConfig{}, err
		}
	}
	return LoadConfig(configPath)
}
