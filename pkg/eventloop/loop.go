// Package eventloop provides the single goroutine every hello callback runs
// on. Timer fires, probe outcomes and inbound probes are all posted here, so
// the protocol code mutates neighbor state without its own locking.
package eventloop

import (
	"context"
	"time"
)

// Loop executes posted functions one at a time, in arrival order.
type Loop struct {
	tasks chan func()
}

func New() *Loop {
	return &Loop{tasks: make(chan func(), 1024)}
}

// Post queues fn for execution on the loop. It blocks if the queue is full,
// which applies natural backpressure to the transport read path.
func (l *Loop) Post(fn func()) {
	l.tasks <- fn
}

// After runs fn on the loop once d has elapsed. Each caller schedules
// exactly one future execution; there is no periodic rearm here.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Run drains the loop until ctx is canceled. Tasks posted after Run returns
// stay queued and never execute.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}
