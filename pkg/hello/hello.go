// Package hello maintains neighbor liveness. The prober periodically probes
// every neighbor with a usable face, answers probes from configured
// neighbors with signed data, and derives each neighbor's active/inactive
// status from probe outcomes. Route recomputation is triggered exactly on
// status transitions, never on individual probe events.
//
// All entry points run on the daemon event loop; the package holds no locks
// of its own.
package hello

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrroute/internal/telemetry"
	"github.com/ryandielhenn/zephyrroute/pkg/adjacency"
	"github.com/ryandielhenn/zephyrroute/pkg/name"
	"github.com/ryandielhenn/zephyrroute/pkg/transport"
)

// Probe names follow /<neighbor>/<protocolComponent>/<infoComponent>/<encoded
// router identity>; the answering data appends a version component. Both
// sides must agree on these literals.
const (
	protocolComponent = "zrt"
	infoComponent     = "INFO"
)

// Transport expresses probes and delivers exactly one outcome per probe.
type Transport interface {
	Express(i *transport.Interest,
		onData func(*transport.Interest, *transport.Data),
		onNack func(*transport.Interest, string),
		onTimeout func(*transport.Interest))
	Put(d *transport.Data)
}

// Validator decides whether inbound data is trustworthy, invoking exactly
// one of the two continuations.
type Validator interface {
	Validate(d *transport.Data, onValid func(*transport.Data), onInvalid func(*transport.Data, error))
}

// Signer signs outbound hello data.
type Signer interface {
	Sign(d *transport.Data)
}

// RecomputeScheduler is the downstream consumer of liveness transitions.
type RecomputeScheduler interface {
	ScheduleAdvertisementRebuild()
	ScheduleRouteRecalculation()
}

// Scheduler runs a callback once after a delay, on the event loop.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Config holds the prober's runtime parameters.
type Config struct {
	// RouterName is this router's identity, embedded in every probe.
	RouterName name.Name
	// SweepInterval separates full probe sweeps over all neighbors.
	SweepInterval time.Duration
	// ProbeLifetime bounds how long a single probe waits for data.
	ProbeLifetime time.Duration
	// RetryThreshold is the number of consecutive failures after which an
	// active neighbor is declared inactive.
	RetryThreshold uint32
	// DataFreshness is how long answered hello data stays cacheable.
	// Liveness must be re-verified frequently, so this is short.
	DataFreshness time.Duration
	// HyperbolicRouting selects route recalculation instead of
	// advertisement rebuild on transitions.
	HyperbolicRouting bool
}

// Option configures a Prober.
type Option func(*Prober)

// WithLog configures the prober with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(p *Prober) { p.log = log }
}

// WithMetrics configures the prober with an injected metric set.
func WithMetrics(m *telemetry.HelloMetrics) Option {
	return func(p *Prober) { p.metrics = m }
}

// Prober owns the per-neighbor status and timeout counters in the adjacency
// list. Nothing else writes them.
type Prober struct {
	cfg         Config
	transport   Transport
	validator   Validator
	signer      Signer
	adjacencies *adjacency.List
	recompute   RecomputeScheduler
	sched       Scheduler
	metrics     *telemetry.HelloMetrics
	log         *zap.SugaredLogger
}

func NewProber(
	cfg Config,
	t Transport,
	v Validator,
	s Signer,
	adjacencies *adjacency.List,
	recompute RecomputeScheduler,
	sched Scheduler,
	opts ...Option,
) *Prober {
	p := &Prober{
		cfg:         cfg,
		transport:   t,
		validator:   v,
		signer:      s,
		adjacencies: adjacencies,
		recompute:   recompute,
		sched:       sched,
		metrics:     telemetry.NewHelloMetrics(nil),
		log:         zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Namespace is the prefix inbound probes for this router arrive under;
// attach HandleIncomingProbe to it on the transport.
func (p *Prober) Namespace() name.Name {
	return p.cfg.RouterName.Append(protocolComponent)
}

func (p *Prober) probeName(neighbor name.Name) name.Name {
	return neighbor.Append(protocolComponent, infoComponent, p.cfg.RouterName.Encoded())
}

// RunSweep probes every neighbor that has a usable face, then schedules the
// next sweep. Each run schedules exactly one future run, so a slow sweep
// never doubles up.
func (p *Prober) RunSweep() {
	seen := make(map[string]struct{})
	for _, nb := range p.adjacencies.Snapshot() {
		if nb.FaceID == 0 {
			continue
		}
		key := nb.Name.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		p.sendProbe(p.probeName(nb.Name))
	}
	p.log.Debugf("hello sweep probed %d neighbors, next in %s", len(seen), p.cfg.SweepInterval)
	p.sched.After(p.cfg.SweepInterval, p.RunSweep)
}

// sendProbe expresses one probe and registers its three outcome callbacks.
func (p *Prober) sendProbe(probe name.Name) {
	p.log.Debugf("expressing probe %s", probe)
	p.transport.Express(
		&transport.Interest{Name: probe, Lifetime: p.cfg.ProbeLifetime},
		p.onData,
		p.onNack,
		p.onTimeout,
	)
	p.metrics.InterestsSent.Inc()
}

// HandleIncomingProbe answers a probe from a configured neighbor with signed
// data, and reciprocally probes a neighbor we believed dead. Probes from
// unknown routers and names without the info marker are dropped silently.
func (p *Prober) HandleIncomingProbe(n name.Name, _ *transport.Interest) {
	p.metrics.InterestsReceived.Inc()
	if n.At(-2) != infoComponent {
		p.log.Debugf("ignoring probe without info marker: %s", n)
		return
	}
	sender, err := name.Decode(n.At(-1))
	if err != nil {
		p.log.Debugf("ignoring probe with undecodable sender: %s", n)
		return
	}
	if !p.adjacencies.IsNeighbor(sender) {
		p.log.Debugf("ignoring probe from unknown router %s", sender)
		return
	}

	d := &transport.Data{
		Name:            n.AppendVersion(uint64(time.Now().UnixNano())),
		FreshnessPeriod: p.cfg.DataFreshness,
		Content:         []byte(infoComponent),
	}
	p.signer.Sign(d)
	p.transport.Put(d)
	p.metrics.DataSent.Inc()

	// A probe from a neighbor we hold inactive means the link likely came
	// back; re-verify the reverse direction now instead of waiting for the
	// next sweep.
	if p.adjacencies.Status(sender) == adjacency.StatusInactive && p.adjacencies.Face(sender) != 0 {
		p.sendProbe(p.probeName(sender))
	}
}

// onNack treats a negative acknowledgement exactly like a timeout; the
// transport rejected the probe, which says nothing more about the neighbor
// than silence does.
func (p *Prober) onNack(i *transport.Interest, reason string) {
	p.log.Debugf("probe %s nacked (%s), treating as timeout", i.Name, reason)
	p.handleProbeFailure(i)
}

func (p *Prober) onTimeout(i *transport.Interest) {
	p.log.Debugf("probe %s timed out", i.Name)
	p.handleProbeFailure(i)
}

// handleProbeFailure counts a failed probe and either retries, declares the
// neighbor inactive, or gives up until the next sweep.
func (p *Prober) handleProbeFailure(i *transport.Interest) {
	n := i.Name
	if n.At(-2) != infoComponent {
		return
	}
	neighbor := n.Prefix(-3)
	if !p.adjacencies.IsNeighbor(neighbor) {
		// The neighbor was removed while this probe was in flight.
		return
	}
	p.adjacencies.IncrementTimeoutCount(neighbor)

	status := p.adjacencies.Status(neighbor)
	failures := p.adjacencies.TimeoutCount(neighbor)

	switch {
	case failures < p.cfg.RetryThreshold:
		p.sendProbe(p.probeName(neighbor))
	case status == adjacency.StatusActive && failures == p.cfg.RetryThreshold:
		p.adjacencies.SetStatus(neighbor, adjacency.StatusInactive)
		p.log.Infof("neighbor %s is now inactive after %d failed probes", neighbor, failures)
		p.metrics.Transitions.WithLabelValues("down").Inc()
		p.metrics.ActiveNeighbors.Set(float64(p.adjacencies.ActiveCount()))
		p.notifyStatusChange()
	default:
		// Beyond the threshold, or the neighbor was never active: leave it
		// alone until the next scheduled sweep.
	}
}

// onData forwards received data to the validator before any state changes.
// Unvalidated data must not be able to mark a neighbor alive.
func (p *Prober) onData(_ *transport.Interest, d *transport.Data) {
	p.validator.Validate(d, p.onDataValidated, p.onDataValidationFailed)
}

func (p *Prober) onDataValidated(d *transport.Data) {
	n := d.Name
	if n.At(-3) != infoComponent {
		p.log.Debugf("ignoring validated data without info marker: %s", n)
		return
	}
	neighbor := n.Prefix(-4)
	if !p.adjacencies.IsNeighbor(neighbor) {
		return
	}

	oldStatus := p.adjacencies.Status(neighbor)
	p.adjacencies.SetStatus(neighbor, adjacency.StatusActive)
	p.adjacencies.SetTimeoutCount(neighbor, 0)
	p.metrics.DataReceived.Inc()

	if oldStatus != adjacency.StatusActive {
		p.log.Infof("neighbor %s is now active", neighbor)
		p.metrics.Transitions.WithLabelValues("up").Inc()
		p.metrics.ActiveNeighbors.Set(float64(p.adjacencies.ActiveCount()))
		p.notifyStatusChange()
	}
}

func (p *Prober) onDataValidationFailed(d *transport.Data, err error) {
	p.log.Warnf("hello data %s failed validation: %v", d.Name, err)
	p.metrics.ValidationFailures.Inc()
}

// notifyStatusChange dispatches the one downstream recomputation a
// transition earns, selected by the routing mode.
func (p *Prober) notifyStatusChange() {
	if p.cfg.HyperbolicRouting {
		p.recompute.ScheduleRouteRecalculation()
	} else {
		p.recompute.ScheduleAdvertisementRebuild()
	}
}
