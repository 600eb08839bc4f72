package hello

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrroute/pkg/adjacency"
	"github.com/ryandielhenn/zephyrroute/pkg/name"
	"github.com/ryandielhenn/zephyrroute/pkg/transport"
)

var (
	routerSelf = name.MustParse("/campus/router-self")
	routerB    = name.MustParse("/campus/router-b")
	routerC    = name.MustParse("/campus/router-c")
	routerD    = name.MustParse("/campus/router-d")
)

type sentProbe struct {
	interest  *transport.Interest
	onData    func(*transport.Interest, *transport.Data)
	onNack    func(*transport.Interest, string)
	onTimeout func(*transport.Interest)
}

// fakeTransport records every expressed probe so a test can hand each one
// its terminal outcome explicitly.
type fakeTransport struct {
	sent []sentProbe
	puts []*transport.Data
}

func (f *fakeTransport) Express(i *transport.Interest,
	onData func(*transport.Interest, *transport.Data),
	onNack func(*transport.Interest, string),
	onTimeout func(*transport.Interest)) {
	f.sent = append(f.sent, sentProbe{interest: i, onData: onData, onNack: onNack, onTimeout: onTimeout})
}

func (f *fakeTransport) Put(d *transport.Data) { f.puts = append(f.puts, d) }

func (f *fakeTransport) timeout(idx int) {
	p := f.sent[idx]
	p.onTimeout(p.interest)
}

func (f *fakeTransport) nack(idx int, reason string) {
	p := f.sent[idx]
	p.onNack(p.interest, reason)
}

// respond delivers well-formed hello data for the probe at idx.
func (f *fakeTransport) respond(idx int) {
	p := f.sent[idx]
	d := &transport.Data{
		Name:            p.interest.Name.AppendVersion(1),
		FreshnessPeriod: 10 * time.Second,
		Content:         []byte("INFO"),
		Signature:       []byte("mac"),
	}
	p.onData(p.interest, d)
}

type fakeValidator struct{ reject bool }

func (v *fakeValidator) Validate(d *transport.Data, onValid func(*transport.Data), onInvalid func(*transport.Data, error)) {
	if v.reject {
		onInvalid(d, errors.New("signature mismatch"))
		return
	}
	onValid(d)
}

type stubSigner struct{}

func (stubSigner) Sign(d *transport.Data) { d.Signature = []byte("mac") }

type fakeScheduler struct {
	delays []time.Duration
	fns    []func()
}

func (s *fakeScheduler) After(d time.Duration, fn func()) {
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, fn)
}

type fakeRecompute struct {
	rebuilds int
	recalcs  int
}

func (r *fakeRecompute) ScheduleAdvertisementRebuild() { r.rebuilds++ }
func (r *fakeRecompute) ScheduleRouteRecalculation()   { r.recalcs++ }

type fixture struct {
	prober    *Prober
	transport *fakeTransport
	validator *fakeValidator
	sched     *fakeScheduler
	recompute *fakeRecompute
	adj       *adjacency.List
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.RouterName.Len() == 0 {
		cfg.RouterName = routerSelf
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.ProbeLifetime == 0 {
		cfg.ProbeLifetime = 4 * time.Second
	}
	if cfg.RetryThreshold == 0 {
		cfg.RetryThreshold = 3
	}
	if cfg.DataFreshness == 0 {
		cfg.DataFreshness = 10 * time.Second
	}
	f := &fixture{
		transport: &fakeTransport{},
		validator: &fakeValidator{},
		sched:     &fakeScheduler{},
		recompute: &fakeRecompute{},
		adj:       adjacency.NewList(),
	}
	f.prober = NewProber(cfg, f.transport, f.validator, stubSigner{}, f.adj, f.recompute, f.sched)
	return f
}

func (f *fixture) addNeighbor(n name.Name, faceID uint64) {
	f.adj.Add(n, "")
	f.adj.SetFace(n, faceID)
}

// invariant from the state machine: an active neighbor always has a zero
// failure counter at quiescence.
func (f *fixture) checkInvariant(t *testing.T) {
	t.Helper()
	for _, nb := range f.adj.Snapshot() {
		if nb.Status == adjacency.StatusActive {
			require.Zero(t, nb.TimeoutCount, "active neighbor %s has non-zero failures", nb.Name)
		}
	}
}

func TestSweepProbesEachUsableNeighborOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)
	f.addNeighbor(routerC, 2)
	f.addNeighbor(routerD, 0) // no face: skipped

	f.prober.RunSweep()

	require.Len(t, f.transport.sent, 2)
	names := map[string]bool{}
	for _, p := range f.transport.sent {
		names[p.interest.Name.String()] = true
		require.Equal(t, 4*time.Second, p.interest.Lifetime)
		require.Equal(t, "INFO", p.interest.Name.At(-2))
		sender, err := name.Decode(p.interest.Name.At(-1))
		require.NoError(t, err)
		require.True(t, sender.Equal(routerSelf))
	}
	require.Len(t, names, 2, "each neighbor probed at most once per sweep")

	require.Len(t, f.sched.fns, 1, "exactly one future sweep scheduled")
	require.Equal(t, 60*time.Second, f.sched.delays[0])
}

func TestSweepReschedulesWithNoNeighbors(t *testing.T) {
	f := newFixture(t, Config{})
	f.prober.RunSweep()
	require.Empty(t, f.transport.sent)
	require.Len(t, f.sched.fns, 1)
}

func TestFailuresBelowThresholdRetry(t *testing.T) {
	f := newFixture(t, Config{RetryThreshold: 3})
	f.addNeighbor(routerB, 1)
	f.adj.SetStatus(routerB, adjacency.StatusActive)

	f.prober.RunSweep()
	require.Len(t, f.transport.sent, 1)

	f.transport.timeout(0)
	require.Equal(t, uint32(1), f.adj.TimeoutCount(routerB))
	require.Len(t, f.transport.sent, 2, "failure below threshold retries immediately")
	require.Equal(t, adjacency.StatusActive, f.adj.Status(routerB))

	f.transport.timeout(1)
	require.Equal(t, uint32(2), f.adj.TimeoutCount(routerB))
	require.Len(t, f.transport.sent, 3)
	require.Zero(t, f.recompute.rebuilds)
}

func TestThresholdFlipsActiveNeighborDownOnce(t *testing.T) {
	f := newFixture(t, Config{RetryThreshold: 3})
	f.addNeighbor(routerB, 1)
	f.adj.SetStatus(routerB, adjacency.StatusActive)

	f.prober.RunSweep()
	f.transport.timeout(0) // failure 1, retry
	f.transport.timeout(1) // failure 2, retry
	f.transport.timeout(2) // failure 3 == threshold: transition

	require.Equal(t, adjacency.StatusInactive, f.adj.Status(routerB))
	require.Equal(t, 1, f.recompute.rebuilds)
	require.Len(t, f.transport.sent, 3, "no retry after the neighbor is declared dead")

	// A later sweep probes it again; a fourth consecutive failure must not
	// re-notify or retry.
	f.prober.RunSweep()
	require.Len(t, f.transport.sent, 4)
	f.transport.timeout(3)
	require.Equal(t, uint32(4), f.adj.TimeoutCount(routerB))
	require.Equal(t, 1, f.recompute.rebuilds, "down transition is edge-triggered")
	require.Len(t, f.transport.sent, 4)
	f.checkInvariant(t)
}

func TestNackIsHandledLikeTimeout(t *testing.T) {
	f := newFixture(t, Config{RetryThreshold: 2})
	f.addNeighbor(routerB, 1)
	f.adj.SetStatus(routerB, adjacency.StatusActive)

	f.prober.RunSweep()
	f.transport.nack(0, transport.NackNoRoute)
	require.Equal(t, uint32(1), f.adj.TimeoutCount(routerB))
	require.Len(t, f.transport.sent, 2)

	f.transport.nack(1, transport.NackNoRoute)
	require.Equal(t, adjacency.StatusInactive, f.adj.Status(routerB))
	require.Equal(t, 1, f.recompute.rebuilds)
}

func TestValidatedDataActivatesAndNotifiesOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)
	f.adj.SetTimeoutCount(routerB, 2)

	f.prober.RunSweep()
	f.transport.respond(0)

	require.Equal(t, adjacency.StatusActive, f.adj.Status(routerB))
	require.Zero(t, f.adj.TimeoutCount(routerB), "validated data resets the failure counter")
	require.Equal(t, 1, f.recompute.rebuilds)
	f.checkInvariant(t)

	// A refresh while already active is idempotent.
	f.prober.RunSweep()
	f.transport.respond(1)
	require.Equal(t, 1, f.recompute.rebuilds)
	f.checkInvariant(t)
}

func TestRejectedDataLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	f.validator.reject = true
	f.addNeighbor(routerB, 1)
	f.adj.SetTimeoutCount(routerB, 2)

	f.prober.RunSweep()
	f.transport.respond(0)

	require.Equal(t, adjacency.StatusInactive, f.adj.Status(routerB))
	require.Equal(t, uint32(2), f.adj.TimeoutCount(routerB),
		"a rejected response is not a timeout: the counter must not move")
	require.Zero(t, f.recompute.rebuilds)
	require.Len(t, f.transport.sent, 1, "no retry on validation failure")
}

func TestValidatedDataWithWrongMarkerIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)
	f.prober.RunSweep()

	p := f.transport.sent[0]
	d := &transport.Data{
		Name:            routerB.Append("zrt", "OTHER", "x").AppendVersion(1),
		FreshnessPeriod: 10 * time.Second,
		Content:         []byte("INFO"),
	}
	p.onData(p.interest, d)

	require.Equal(t, adjacency.StatusInactive, f.adj.Status(routerB))
	require.Zero(t, f.recompute.rebuilds)
}

func TestHyperbolicModeDispatchesRouteRecalculation(t *testing.T) {
	f := newFixture(t, Config{HyperbolicRouting: true})
	f.addNeighbor(routerB, 1)

	f.prober.RunSweep()
	f.transport.respond(0)
	require.Equal(t, 1, f.recompute.recalcs)
	require.Zero(t, f.recompute.rebuilds)

	f.adj.SetStatus(routerB, adjacency.StatusActive)
	f.adj.SetTimeoutCount(routerB, 0)
	f.prober.RunSweep()
	f.transport.timeout(1)
	f.transport.timeout(2)
	f.transport.timeout(3)
	require.Equal(t, 2, f.recompute.recalcs)
	require.Zero(t, f.recompute.rebuilds)
}

func TestOutcomeForRemovedNeighborIsIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)
	f.prober.RunSweep()
	f.adj.Remove(routerB)

	f.transport.timeout(0)
	require.Len(t, f.transport.sent, 1, "no retry for a removed neighbor")
	require.Zero(t, f.recompute.rebuilds)

	f.prober.RunSweep()
	require.Len(t, f.transport.sent, 1)
}

func incomingProbeName(sender name.Name) name.Name {
	return routerSelf.Append(protocolComponent, infoComponent, sender.Encoded())
}

func TestIncomingProbeFromKnownNeighborIsAnswered(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)
	f.adj.SetStatus(routerB, adjacency.StatusActive)

	n := incomingProbeName(routerB)
	f.prober.HandleIncomingProbe(n, &transport.Interest{Name: n})

	require.Len(t, f.transport.puts, 1)
	d := f.transport.puts[0]
	require.True(t, n.IsPrefixOf(d.Name), "data name extends the probe name")
	require.Equal(t, n.Len()+1, d.Name.Len(), "exactly one version component appended")
	require.Equal(t, "INFO", string(d.Content))
	require.Equal(t, 10*time.Second, d.FreshnessPeriod)
	require.NotEmpty(t, d.Signature, "hello data must be signed")

	require.Empty(t, f.transport.sent, "no reciprocal probe for an active neighbor")
}

func TestIncomingProbeFromInactiveNeighborTriggersReciprocalProbe(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)

	n := incomingProbeName(routerB)
	f.prober.HandleIncomingProbe(n, &transport.Interest{Name: n})

	require.Len(t, f.transport.puts, 1)
	require.Len(t, f.transport.sent, 1, "one reciprocal probe")
	require.Equal(t, f.prober.probeName(routerB).String(), f.transport.sent[0].interest.Name.String())
}

func TestIncomingProbeFromInactiveFacelessNeighbor(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 0)

	n := incomingProbeName(routerB)
	f.prober.HandleIncomingProbe(n, &transport.Interest{Name: n})

	require.Len(t, f.transport.puts, 1, "the probe is still answered")
	require.Empty(t, f.transport.sent, "no reciprocal probe without a usable face")
}

func TestIncomingProbeFromUnknownRouterIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)

	n := incomingProbeName(name.MustParse("/campus/router-x"))
	f.prober.HandleIncomingProbe(n, &transport.Interest{Name: n})

	require.Empty(t, f.transport.puts)
	require.Empty(t, f.transport.sent)
	require.Equal(t, adjacency.StatusInactive, f.adj.Status(routerB))
}

func TestIncomingProbeWithoutMarkerIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	f.addNeighbor(routerB, 1)

	n := routerSelf.Append(protocolComponent, "PING", routerB.Encoded())
	f.prober.HandleIncomingProbe(n, &transport.Interest{Name: n})

	require.Empty(t, f.transport.puts)
	require.Empty(t, f.transport.sent)
}

// Scenario from the protocol description: threshold 3, an active neighbor
// goes silent, a dead one comes back.
func TestConvergenceScenario(t *testing.T) {
	f := newFixture(t, Config{RetryThreshold: 3})
	f.addNeighbor(routerB, 1) // N: starts active
	f.addNeighbor(routerC, 2) // M: starts inactive
	f.adj.SetStatus(routerB, adjacency.StatusActive)

	f.prober.RunSweep()
	require.Len(t, f.transport.sent, 2)

	var probeB, probeC int
	for i, p := range f.transport.sent {
		if routerB.IsPrefixOf(p.interest.Name) {
			probeB = i
		} else {
			probeC = i
		}
	}

	// N times out three times in a row.
	f.transport.timeout(probeB)
	f.transport.timeout(2) // first retry
	f.transport.timeout(3) // second retry, reaches threshold

	// M answers.
	f.transport.respond(probeC)

	require.Equal(t, adjacency.StatusInactive, f.adj.Status(routerB))
	require.Equal(t, adjacency.StatusActive, f.adj.Status(routerC))
	require.Zero(t, f.adj.TimeoutCount(routerC))
	require.Equal(t, 2, f.recompute.rebuilds, "one notification per transition")
	f.checkInvariant(t)
}

func TestNamespace(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, "/campus/router-self/zrt", f.prober.Namespace().String())
}
