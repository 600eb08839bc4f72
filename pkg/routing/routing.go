// Package routing debounces the expensive recomputations that neighbor
// liveness transitions trigger: rebuilding the adjacency advertisement or
// recalculating the routing table. A burst of transitions coalesces into a
// single run.
package routing

import (
	"time"

	"go.uber.org/zap"
)

// Scheduler runs a callback once after a delay, on the daemon event loop.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Option configures a Recalculator.
type Option func(*Recalculator)

// WithLog configures the recalculator with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(r *Recalculator) { r.log = log }
}

// Recalculator schedules advertisement rebuilds and route recalculations.
// At most one of each is pending at a time; further requests while one is
// pending are absorbed. All methods run on the event loop, so the pending
// flags need no locking.
type Recalculator struct {
	sched   Scheduler
	delay   time.Duration
	rebuild func()
	recalc  func()
	log     *zap.SugaredLogger

	rebuildPending bool
	recalcPending  bool
}

func NewRecalculator(sched Scheduler, delay time.Duration, rebuild, recalc func(), opts ...Option) *Recalculator {
	r := &Recalculator{
		sched:   sched,
		delay:   delay,
		rebuild: rebuild,
		recalc:  recalc,
		log:     zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ScheduleAdvertisementRebuild arranges one adjacency advertisement rebuild.
func (r *Recalculator) ScheduleAdvertisementRebuild() {
	if r.rebuildPending {
		r.log.Debugf("advertisement rebuild already pending")
		return
	}
	r.rebuildPending = true
	r.sched.After(r.delay, func() {
		r.rebuildPending = false
		r.log.Debugf("rebuilding adjacency advertisement")
		r.rebuild()
	})
}

// ScheduleRouteRecalculation arranges one routing table recalculation.
func (r *Recalculator) ScheduleRouteRecalculation() {
	if r.recalcPending {
		r.log.Debugf("route recalculation already pending")
		return
	}
	r.recalcPending = true
	r.sched.After(r.delay, func() {
		r.recalcPending = false
		r.log.Debugf("recalculating routing table")
		r.recalc()
	})
}
