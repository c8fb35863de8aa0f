package coordinator

import (
	"github.com/rxtech-lab/argo-datapage/pkg/compute"
)

// OnStatusCallback is called on every state change of a request.
type OnStatusCallback func(runID string, state State)

// OnProgressCallback is called with page loading progress (phase
// compute.PhaseLoading) and then with engine progress per phase.
type OnProgressCallback func(runID string, phase compute.Phase, pct float64)

// OnErrorCallback is called once when a request fails.
type OnErrorCallback func(runID string, err error)

// OnCompleteCallback is called once with the result of a finished backtest.
type OnCompleteCallback func(runID string, result *compute.Result)

// Callbacks holds the caller's callbacks. All fields are pointers - nil means
// no callback will be invoked. Every callback runs on the notification
// dispatcher and must not block.
type Callbacks struct {
	OnStatus   *OnStatusCallback
	OnProgress *OnProgressCallback
	OnError    *OnErrorCallback
	OnComplete *OnCompleteCallback
}

func (c *Coordinator) emitStatus(runID string, state State) {
	if c.callbacks.OnStatus == nil {
		return
	}

	fn := *c.callbacks.OnStatus
	c.dispatcher.Post(func() { fn(runID, state) })
}

func (c *Coordinator) emitProgress(runID string, phase compute.Phase, pct float64) {
	if c.callbacks.OnProgress == nil {
		return
	}

	fn := *c.callbacks.OnProgress
	c.dispatcher.Post(func() { fn(runID, phase, pct) })
}

func (c *Coordinator) emitError(runID string, err error) {
	if c.callbacks.OnError == nil {
		return
	}

	fn := *c.callbacks.OnError
	c.dispatcher.Post(func() { fn(runID, err) })
}

func (c *Coordinator) emitComplete(runID string, result *compute.Result) {
	if c.callbacks.OnComplete == nil {
		return
	}

	fn := *c.callbacks.OnComplete
	c.dispatcher.Post(func() { fn(runID, result) })
}
