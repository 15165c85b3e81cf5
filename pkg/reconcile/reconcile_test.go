package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hferris/balloonburst-online/pkg/protocol"
)

func TestApplyRoster_SpawnsWithCurrentEqualTarget(t *testing.T) {
	r := New("me")

	r.ApplyRoster([]protocol.PlayerState{
		{ID: "p2", Name: "Ben", Character: "fox", X: 10, Y: 1, Z: -4, Rotation: 1.2},
	})

	p, ok := r.Get("p2")
	require.True(t, ok)
	require.Equal(t, 10.0, p.X)
	require.Equal(t, 10.0, p.TargetX)
	require.Equal(t, 1.2, p.Facing)
	require.Equal(t, 1.2, p.TargetFacing)
}

func TestApplyRoster_IgnoresLocalPlayer(t *testing.T) {
	r := New("me")

	r.ApplyRoster([]protocol.PlayerState{
		{ID: "me", X: 1},
		{ID: "p2", X: 2},
	})

	_, ok := r.Get("me")
	require.False(t, ok)
	require.Len(t, r.All(), 1)
}

func TestApplyRoster_DeletesMissingPlayers(t *testing.T) {
	r := New("me")

	r.ApplyRoster([]protocol.PlayerState{{ID: "p2"}, {ID: "p3"}})
	require.Len(t, r.All(), 2)

	r.ApplyRoster([]protocol.PlayerState{{ID: "p3"}})
	_, ok := r.Get("p2")
	require.False(t, ok)
	require.Len(t, r.All(), 1)
}

func TestApplyPosition_MovesTargetNotCurrent(t *testing.T) {
	r := New("me")
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2"}})

	r.ApplyPosition("p2", 8, 0, 6, 0.5)

	p, _ := r.Get("p2")
	require.Equal(t, 8.0, p.TargetX)
	require.Equal(t, 6.0, p.TargetZ)
	require.Equal(t, 0.0, p.X, "rendered transform moves only on Tick")
}

func TestApplyPosition_UnknownPlayerIgnored(t *testing.T) {
	r := New("me")
	r.ApplyPosition("ghost", 1, 2, 3, 0)
	require.Empty(t, r.All())
}

func TestTick_ExponentialEasing(t *testing.T) {
	r := New("me")
	r.SetTimeConstant(100 * time.Millisecond)
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2"}})
	r.ApplyPosition("p2", 10, 0, 0, 0)

	// One full time constant closes 1-1/e of the gap.
	r.Tick(100 * time.Millisecond)
	p, _ := r.Get("p2")
	want := 10 * (1 - math.Exp(-1))
	require.InDelta(t, want, p.X, 1e-9)

	// Repeated ticks converge on the target.
	for i := 0; i < 100; i++ {
		r.Tick(100 * time.Millisecond)
	}
	p, _ = r.Get("p2")
	require.InDelta(t, 10.0, p.X, 1e-3)
}

func TestTick_ZeroTimeConstantSnaps(t *testing.T) {
	r := New("me")
	r.SetTimeConstant(0)
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2"}})
	r.ApplyPosition("p2", 3, 4, 5, 1)

	r.Tick(time.Millisecond)

	p, _ := r.Get("p2")
	require.Equal(t, 3.0, p.X)
	require.Equal(t, 4.0, p.Y)
	require.Equal(t, 5.0, p.Z)
	require.InDelta(t, 1.0, p.Facing, 1e-9)
}

func TestTick_FacingTakesShortestArc(t *testing.T) {
	r := New("me")
	tau := 100 * time.Millisecond
	r.SetTimeConstant(tau)
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2", Rotation: math.Pi - 0.1}})

	// Crossing the pi/-pi seam: the short way is +0.4 rad, not -2pi+0.4.
	r.ApplyPosition("p2", 0, 0, 0, -math.Pi+0.3)

	// dt = tau*ln2 makes the easing factor exactly one half, so an easing
	// step through the seam lands past pi and must wrap, while the long
	// way around would land near 0.1.
	r.Tick(time.Duration(float64(tau) * math.Ln2))

	p, _ := r.Get("p2")
	require.InDelta(t, -math.Pi+0.1, p.Facing, 1e-6)
}

func TestRemove_DespawnsImmediately(t *testing.T) {
	r := New("me")
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2"}})

	r.Remove("p2")

	_, ok := r.Get("p2")
	require.False(t, ok)
}

func TestReset_ClearsEverythingForNewRoom(t *testing.T) {
	r := New("me")
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2"}, {ID: "p3"}})

	r.Reset("me2")

	require.Empty(t, r.All())
	r.ApplyRoster([]protocol.PlayerState{{ID: "me2"}, {ID: "p4"}})
	require.Len(t, r.All(), 1, "new local id must be filtered after reset")
}

func TestAll_SortedByID(t *testing.T) {
	r := New("me")
	r.ApplyRoster([]protocol.PlayerState{{ID: "p3"}, {ID: "p1"}, {ID: "p2"}})

	all := r.All()
	require.Equal(t, "p1", all[0].ID)
	require.Equal(t, "p2", all[1].ID)
	require.Equal(t, "p3", all[2].ID)
}

func TestApplyRoster_UpdatesKnownPlayersWithoutSnapping(t *testing.T) {
	r := New("me")
	r.SetTimeConstant(100 * time.Millisecond)
	r.ApplyRoster([]protocol.PlayerState{{ID: "p2", X: 0}})

	r.ApplyRoster([]protocol.PlayerState{{ID: "p2", X: 20, Name: "Ben", Character: "owl"}})

	p, _ := r.Get("p2")
	require.Equal(t, 20.0, p.TargetX)
	require.Equal(t, 0.0, p.X, "a known player's rendered transform eases, never snaps")
	require.Equal(t, "Ben", p.Name)
	require.Equal(t, "owl", p.Character)
}
