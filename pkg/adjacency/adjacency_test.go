package adjacency

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

var (
	routerA = name.MustParse("/campus/router-a")
	routerB = name.MustParse("/campus/router-b")
)

func TestAddPreservesStateOnReAdd(t *testing.T) {
	l := NewList()
	l.Add(routerA, "10.0.0.1:6363")
	l.SetStatus(routerA, StatusActive)
	l.SetTimeoutCount(routerA, 2)

	// A config reload re-adds the same neighbor with a new address.
	l.Add(routerA, "10.0.0.9:6363")

	require.Equal(t, 1, l.Len())
	require.Equal(t, StatusActive, l.Status(routerA))
	require.Equal(t, uint32(2), l.TimeoutCount(routerA))

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "10.0.0.9:6363", snap[0].Address)
}

func TestUnknownNeighborAccessorsAreNoOps(t *testing.T) {
	l := NewList()
	l.Add(routerA, "")

	require.False(t, l.IsNeighbor(routerB))
	require.Equal(t, StatusInactive, l.Status(routerB))
	require.Equal(t, uint32(0), l.IncrementTimeoutCount(routerB))
	l.SetStatus(routerB, StatusActive)
	l.SetFace(routerB, 7)
	require.Equal(t, 1, l.Len())
}

func TestCountersAndStatus(t *testing.T) {
	l := NewList()
	l.Add(routerA, "")
	require.Equal(t, StatusInactive, l.Status(routerA), "neighbors start inactive")

	require.Equal(t, uint32(1), l.IncrementTimeoutCount(routerA))
	require.Equal(t, uint32(2), l.IncrementTimeoutCount(routerA))
	l.SetTimeoutCount(routerA, 0)
	require.Equal(t, uint32(0), l.TimeoutCount(routerA))
}

func TestActiveCount(t *testing.T) {
	l := NewList()
	l.Add(routerA, "")
	l.Add(routerB, "")
	require.Equal(t, 0, l.ActiveCount())

	l.SetStatus(routerA, StatusActive)
	require.Equal(t, 1, l.ActiveCount())

	l.Remove(routerA)
	require.Equal(t, 0, l.ActiveCount())
	require.Equal(t, 1, l.Len())
}

func TestFaceBinding(t *testing.T) {
	l := NewList()
	l.Add(routerA, "10.0.0.1:6363")
	require.Equal(t, uint64(0), l.Face(routerA))

	l.SetFace(routerA, 3)
	require.Equal(t, uint64(3), l.Face(routerA))

	l.SetFace(routerA, 0)
	require.Equal(t, uint64(0), l.Face(routerA))
}
