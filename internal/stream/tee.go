package stream

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/readable"
)

// TeeController reads one upstream stream and replays every chunk into two
// branch streams. At most one upstream read is in flight; pulls that arrive
// meanwhile are coalesced into a single follow-up read.
type TeeController struct {
	scope    *Scope
	upstream *Handle
	reader   core.Reader

	branch1, branch2 *Handle
	ctrl1, ctrl2     core.DefaultController

	reading   bool
	readAgain bool

	canceled1, canceled2 bool
	reason1, reason2     error

	cloneForBranch2 bool
	cancelPromise   *core.Promise
}

// Tee locks h and splits it into two branches. With cloneForBranch2 set,
// branch 2 receives a structured copy of each chunk.
func Tee(h *Handle, cloneForBranch2 bool) (*TeeController, error) {
	if h.IsLocked() {
		h.scope.Metrics.LockConflict()
		return nil, core.ErrLocked
	}
	if err := h.acquireReader(); err != nil {
		return nil, err
	}
	s := h.scope
	t := &TeeController{
		scope:           s,
		upstream:        h,
		reader:          h.reader,
		cloneForBranch2: cloneForBranch2,
		cancelPromise:   core.NewPromise(s.Loop),
	}
	b1 := readable.NewDefault(s.Loop, &teeBranch{t: t, n: 1}, readable.WithHighWaterMark(0))
	b2 := readable.NewDefault(s.Loop, &teeBranch{t: t, n: 2}, readable.WithHighWaterMark(0))
	t.ctrl1, t.ctrl2 = b1.Controller(), b2.Controller()
	t.branch1 = FromPrimitive(s, b1)
	t.branch2 = FromPrimitive(s, b2)

	t.reader.Closed().Then(nil, func(err error) {
		t.ctrl1.Error(err)
		t.ctrl2.Error(err)
		if !t.canceled1 || !t.canceled2 {
			t.cancelPromise.Resolve(nil)
		}
	})
	return t, nil
}

// Branch1 returns the first branch.
func (t *TeeController) Branch1() *Handle { return t.branch1 }

// Branch2 returns the second branch.
func (t *TeeController) Branch2() *Handle { return t.branch2 }

// CancelPromise settles once both branches are cancelled, the upstream
// closes, or a clone failure tears both branches down.
func (t *TeeController) CancelPromise() *core.Promise { return t.cancelPromise }

func (t *TeeController) pull() {
	if t.reading {
		t.readAgain = true
		return
	}
	t.reading = true
	t.upstream.disturbed = true
	t.reader.Read().Then(func(v any) {
		res, _ := v.(core.ReadResult)
		if res.Done {
			t.closeSteps()
			return
		}
		t.chunkSteps(res.Value)
	}, t.errorSteps)
}

func (t *TeeController) chunkSteps(chunk any) {
	t.readAgain = false
	chunk1, chunk2 := chunk, chunk
	if !t.canceled2 && t.cloneForBranch2 {
		cloned, err := t.scope.cloner()(chunk)
		if err != nil {
			t.scope.Metrics.TeeCloneFailure()
			t.scope.Logger.Debug("tee clone failed", zap.Error(err))
			t.ctrl1.Error(err)
			t.ctrl2.Error(err)
			t.cancelPromise.Resolve(t.reader.Cancel(err))
			return
		}
		chunk2 = cloned
	}
	if !t.canceled1 {
		t.ctrl1.Enqueue(chunk1)
	}
	if !t.canceled2 {
		t.ctrl2.Enqueue(chunk2)
	}
	t.reading = false
	if t.readAgain {
		t.pull()
	}
}

func (t *TeeController) closeSteps() {
	t.reading = false
	if !t.canceled1 {
		t.ctrl1.Close()
	}
	if !t.canceled2 {
		t.ctrl2.Close()
	}
	if !t.canceled1 || !t.canceled2 {
		t.cancelPromise.Resolve(nil)
	}
}

// errorSteps only stops reading; the reader's closed promise carries the
// error to both branches.
func (t *TeeController) errorSteps(error) {
	t.reading = false
}

func (t *TeeController) cancelBranch(n int, reason error) *core.Promise {
	if n == 1 {
		t.canceled1, t.reason1 = true, reason
	} else {
		t.canceled2, t.reason2 = true, reason
	}
	if t.canceled1 && t.canceled2 {
		t.cancelPromise.Resolve(t.reader.Cancel(errors.Join(t.reason1, t.reason2)))
	}
	return t.cancelPromise
}

type teeBranch struct {
	t *TeeController
	n int
}

func (b *teeBranch) Pull(core.DefaultController) *core.Promise {
	b.t.pull()
	return nil
}

func (b *teeBranch) Cancel(reason error) *core.Promise {
	return b.t.cancelBranch(b.n, reason)
}
