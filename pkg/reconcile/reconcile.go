// Package reconcile turns the lossy, unordered stream of remote position
// updates into smooth rendered transforms. Each remote player carries a
// target transform (latest authoritative value) and a current transform
// (what rendering reads); a per-frame tick eases current toward target.
//
// Smoothing is frame-rate-independent exponential easing with a fixed time
// constant rather than snap-on-receipt, so remote motion stays smooth at a
// 20 Hz send rate at the cost of roughly one time constant of lag.
package reconcile

import (
	"math"
	"slices"
	"time"

	"github.com/hferris/balloonburst-online/pkg/protocol"
)

// DefaultTimeConstant is the easing time constant: current closes ~63% of
// the gap to target per constant elapsed.
const DefaultTimeConstant = 100 * time.Millisecond

// RemotePlayer is owned exclusively by the Reconciler; callers get copies.
type RemotePlayer struct {
	ID        string
	Name      string
	Character string
	Attacking bool

	X, Y, Z float64 // rendered transform
	Facing  float64 // radians

	TargetX, TargetY, TargetZ float64
	TargetFacing              float64
}

type Reconciler struct {
	localID string
	tau     time.Duration
	players map[string]*RemotePlayer
}

// New creates a reconciler for a session whose local player is localID;
// messages about the local player are ignored.
func New(localID string) *Reconciler {
	return &Reconciler{
		localID: localID,
		tau:     DefaultTimeConstant,
		players: make(map[string]*RemotePlayer),
	}
}

// SetTimeConstant overrides the easing time constant. Zero or negative
// disables easing entirely (current snaps to target every tick).
func (r *Reconciler) SetTimeConstant(tau time.Duration) { r.tau = tau }

// Reset drops every remote player and re-keys the local id. Call it when
// switching rooms and whenever the session reports a disconnect, before the
// next room's first roster snapshot arrives; the session layer resets its
// own state on a drop but never touches the roster held here.
func (r *Reconciler) Reset(localID string) {
	r.localID = localID
	clear(r.players)
}

// ApplyRoster reconciles against an authoritative roster broadcast: new
// players spawn with current == target (no easing from an undefined prior
// state), known players take updated targets, and players missing from the
// roster are deleted outright.
func (r *Reconciler) ApplyRoster(players []protocol.PlayerState) {
	seen := make(map[string]bool, len(players))
	for _, ps := range players {
		if ps.ID == r.localID {
			continue
		}
		seen[ps.ID] = true

		p, ok := r.players[ps.ID]
		if !ok {
			r.players[ps.ID] = &RemotePlayer{
				ID:           ps.ID,
				Name:         ps.Name,
				Character:    ps.Character,
				Attacking:    ps.Attacking,
				X:            ps.X,
				Y:            ps.Y,
				Z:            ps.Z,
				Facing:       ps.Rotation,
				TargetX:      ps.X,
				TargetY:      ps.Y,
				TargetZ:      ps.Z,
				TargetFacing: ps.Rotation,
			}
			continue
		}
		p.Name = ps.Name
		p.Character = ps.Character
		p.Attacking = ps.Attacking
		p.TargetX, p.TargetY, p.TargetZ = ps.X, ps.Y, ps.Z
		p.TargetFacing = ps.Rotation
	}

	for id := range r.players {
		if !seen[id] {
			delete(r.players, id)
		}
	}
}

// ApplyPosition updates one player's target transform. Unknown players are
// ignored; they will materialize on the next roster broadcast.
func (r *Reconciler) ApplyPosition(playerID string, x, y, z, facing float64) {
	p, ok := r.players[playerID]
	if !ok {
		return
	}
	p.TargetX, p.TargetY, p.TargetZ = x, y, z
	p.TargetFacing = facing
}

func (r *Reconciler) ApplyAttack(playerID string, attacking bool) {
	if p, ok := r.players[playerID]; ok {
		p.Attacking = attacking
	}
}

// Remove despawns a player immediately. No fade-out state.
func (r *Reconciler) Remove(playerID string) {
	delete(r.players, playerID)
}

// Tick advances every rendered transform toward its target by dt of easing.
func (r *Reconciler) Tick(dt time.Duration) {
	factor := 1.0
	if r.tau > 0 {
		factor = 1 - math.Exp(-dt.Seconds()/r.tau.Seconds())
	}
	for _, p := range r.players {
		p.X += (p.TargetX - p.X) * factor
		p.Y += (p.TargetY - p.Y) * factor
		p.Z += (p.TargetZ - p.Z) * factor
		p.Facing = normalizeAngle(p.Facing + angleDelta(p.Facing, p.TargetFacing)*factor)
	}
}

// Get returns a copy of one remote player's state.
func (r *Reconciler) Get(playerID string) (RemotePlayer, bool) {
	p, ok := r.players[playerID]
	if !ok {
		return RemotePlayer{}, false
	}
	return *p, true
}

// All returns copies of every remote player, ordered by id for stable
// iteration in render code and tests.
func (r *Reconciler) All() []RemotePlayer {
	out := make([]RemotePlayer, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b RemotePlayer) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// angleDelta is the shortest signed arc from one facing to another, so a
// target crossing the -pi/pi seam never spins the long way around.
func angleDelta(from, to float64) float64 {
	d := math.Mod(to-from, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
