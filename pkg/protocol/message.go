// Package protocol is the wire contract shared by the room server and the
// session client: one JSON object per message, discriminated by "type".
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownType = errors.New("unknown message type")
var ErrBadRoomCode = errors.New("room code must be 4 letters")

type Type string

const (
	TypeJoin            Type = "join"
	TypeLeave           Type = "leave"
	TypePosition        Type = "position"
	TypeAttack          Type = "attack"
	TypeAttackEnd       Type = "attack_end"
	TypeBalloonPop      Type = "balloon_pop"
	TypeGemCollect      Type = "gem_collect"
	TypeLevelChange     Type = "level_change"
	TypeGameStart       Type = "game_start"
	TypeCharacterUpdate Type = "character_update"
	TypeRoster          Type = "roster"
	TypeSyncState       Type = "sync_state"
	TypeError           Type = "error"
)

type Phase string

const (
	PhaseLobby  Phase = "lobby"
	PhaseActive Phase = "active"
)

type Level string

const (
	LevelMeadow    Level = "meadow"
	LevelSkyPark   Level = "sky_park"
	LevelGemCavern Level = "gem_cavern"
)

// DefaultLevel is where every session starts. GemLevel is the level whose
// gems the collected ledger tracks; selecting it again resets the ledger.
const (
	DefaultLevel = LevelMeadow
	GemLevel     = LevelGemCavern
)

// PlayerState is one roster entry as it appears in roster and sync_state
// broadcasts.
type PlayerState struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Character string  `json:"characterVariant"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Rotation  float64 `json:"rotation"`
	Attacking bool    `json:"isAttacking"`
}

// Message is the single wire struct for every variant. Only the fields a
// variant needs are populated; the rest stay at their zero value and are
// mostly elided by omitempty. The transform fields are always serialized so
// a legitimate 0 coordinate survives the trip.
type Message struct {
	Type           Type          `json:"type"`
	PlayerID       string        `json:"playerId,omitempty"`
	Name           string        `json:"name,omitempty"`
	Character      string        `json:"characterVariant,omitempty"`
	X              float64       `json:"x"`
	Y              float64       `json:"y"`
	Z              float64       `json:"z"`
	Rotation       float64       `json:"rotation"`
	BalloonIDs     []string      `json:"balloonIds,omitempty"`
	PoppedBy       string        `json:"poppedBy,omitempty"`
	GemID          string        `json:"gemId,omitempty"`
	CollectedBy    string        `json:"collectedBy,omitempty"`
	Level          Level         `json:"level,omitempty"`
	Players        []PlayerState `json:"players,omitempty"`
	HostID         string        `json:"hostId,omitempty"`
	Phase          Phase         `json:"phase,omitempty"`
	PoppedBalloons []string      `json:"poppedBalloons,omitempty"`
	CollectedGems  []string      `json:"collectedGems,omitempty"`
	Error          string        `json:"message,omitempty"`
}

var knownTypes = map[Type]bool{
	TypeJoin:            true,
	TypeLeave:           true,
	TypePosition:        true,
	TypeAttack:          true,
	TypeAttackEnd:       true,
	TypeBalloonPop:      true,
	TypeGemCollect:      true,
	TypeLevelChange:     true,
	TypeGameStart:       true,
	TypeCharacterUpdate: true,
	TypeRoster:          true,
	TypeSyncState:       true,
	TypeError:           true,
}

// Decode parses one wire message and rejects unknown discriminators so the
// caller can drop garbage without guessing.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !knownTypes[m.Type] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// NormalizeRoomCode canonicalizes a room code: exactly 4 alphabetic
// characters, compared and transmitted upper-case.
func NormalizeRoomCode(code string) (string, error) {
	if len(code) != 4 {
		return "", ErrBadRoomCode
	}
	up := strings.ToUpper(code)
	for i := 0; i < len(up); i++ {
		if up[i] < 'A' || up[i] > 'Z' {
			return "", ErrBadRoomCode
		}
	}
	return up, nil
}
