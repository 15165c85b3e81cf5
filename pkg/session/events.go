package session

import "github.com/hferris/balloonburst-online/pkg/protocol"

// Event is a typed republication of one inbound room message. The UI drains
// Events() between frames; nothing here is delivered concurrently with a
// render.
type Event interface{ isEvent() }

type Roster struct {
	Players []protocol.PlayerState
	HostID  string
}

type PlayerLeft struct{ PlayerID string }

type PlayerMoved struct {
	PlayerID string
	X, Y, Z  float64
	Rotation float64
}

type AttackStarted struct{ PlayerID string }

type AttackEnded struct{ PlayerID string }

type BalloonsPopped struct {
	BalloonIDs []string
	PoppedBy   string
}

type GemCollected struct {
	GemID       string
	CollectedBy string
}

type LevelChanged struct{ Level protocol.Level }

type GameStarted struct{}

// StateSynced carries the full ledgers pushed to a client that attaches
// while a game is already running.
type StateSynced struct {
	HostID         string
	Players        []protocol.PlayerState
	Phase          protocol.Phase
	Level          protocol.Level
	PoppedBalloons []string
	CollectedGems  []string
}

type RoomError struct{ Message string }

// Disconnected is emitted when the connection drops after a successful
// join; local session state has already been reset when it arrives. The
// consumer owns the remote roster and must clear it on this event (the
// reconciler's Reset does that) so no stale players survive into the next
// room.
type Disconnected struct{ Err error }

func (Roster) isEvent()         {}
func (PlayerLeft) isEvent()     {}
func (PlayerMoved) isEvent()    {}
func (AttackStarted) isEvent()  {}
func (AttackEnded) isEvent()    {}
func (BalloonsPopped) isEvent() {}
func (GemCollected) isEvent()   {}
func (LevelChanged) isEvent()   {}
func (GameStarted) isEvent()    {}
func (StateSynced) isEvent()    {}
func (RoomError) isEvent()      {}
func (Disconnected) isEvent()   {}

func eventFor(m protocol.Message) (Event, bool) {
	switch m.Type {
	case protocol.TypeRoster:
		return Roster{Players: m.Players, HostID: m.HostID}, true
	case protocol.TypeLeave:
		return PlayerLeft{PlayerID: m.PlayerID}, true
	case protocol.TypePosition:
		return PlayerMoved{PlayerID: m.PlayerID, X: m.X, Y: m.Y, Z: m.Z, Rotation: m.Rotation}, true
	case protocol.TypeAttack:
		return AttackStarted{PlayerID: m.PlayerID}, true
	case protocol.TypeAttackEnd:
		return AttackEnded{PlayerID: m.PlayerID}, true
	case protocol.TypeBalloonPop:
		return BalloonsPopped{BalloonIDs: m.BalloonIDs, PoppedBy: m.PoppedBy}, true
	case protocol.TypeGemCollect:
		return GemCollected{GemID: m.GemID, CollectedBy: m.CollectedBy}, true
	case protocol.TypeLevelChange:
		return LevelChanged{Level: m.Level}, true
	case protocol.TypeGameStart:
		return GameStarted{}, true
	case protocol.TypeSyncState:
		return StateSynced{
			HostID:         m.HostID,
			Players:        m.Players,
			Phase:          m.Phase,
			Level:          m.Level,
			PoppedBalloons: m.PoppedBalloons,
			CollectedGems:  m.CollectedGems,
		}, true
	case protocol.TypeError:
		return RoomError{Message: m.Error}, true
	default:
		return nil, false
	}
}
