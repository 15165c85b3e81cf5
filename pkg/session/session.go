// Package session is the client-side session layer: it owns one connection
// at a time, exposes fire-and-forget action senders, and republishes inbound
// room messages as typed local events for the UI loop to drain.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hferris/balloonburst-online/pkg/protocol"
)

var ErrNotConnected = errors.New("not connected to a room")

const (
	// positionInterval caps outbound position traffic at 20 Hz no matter
	// how fast the render loop runs.
	positionInterval = 50 * time.Millisecond
	sendTimeout      = 3 * time.Second
	eventBuffer      = 64
)

// Transport supplies the duplex per-connection message channel. The
// websocket implementation lives in this package; tests swap in fakes.
type Transport interface {
	Dial(ctx context.Context, roomCode string) (Conn, error)
}

type Conn interface {
	Send(ctx context.Context, m protocol.Message) error
	// Receive blocks for the next well-formed message. Implementations
	// drop malformed frames internally; an error means the connection is
	// gone.
	Receive(ctx context.Context) (protocol.Message, error)
	Close() error
}

type Session struct {
	transport Transport
	events    chan Event
	now       func() time.Time

	mu       sync.Mutex
	conn     Conn
	cancel   context.CancelFunc
	roomCode string
	playerID string
	lastPos  time.Time
}

func New(transport Transport) *Session {
	return &Session{
		transport: transport,
		events:    make(chan Event, eventBuffer),
		now:       time.Now,
	}
}

// Events returns the stream of typed room events. The channel is buffered;
// if the consumer stops draining it, further events are dropped rather than
// blocking the receive loop.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// CreateRoom picks a fresh 4-letter code client-side (no server round-trip;
// the room materializes on first attach) and joins it.
func (s *Session) CreateRoom(ctx context.Context, name, character string) (string, error) {
	code, err := GenerateRoomCode()
	if err != nil {
		return "", err
	}
	if err := s.connect(ctx, code, name, character); err != nil {
		return "", err
	}
	return code, nil
}

// JoinRoom connects to an existing room. The code is case-insensitive on
// input and canonicalized upper-case.
func (s *Session) JoinRoom(ctx context.Context, code, name, character string) error {
	canonical, err := protocol.NormalizeRoomCode(code)
	if err != nil {
		return err
	}
	return s.connect(ctx, canonical, name, character)
}

func (s *Session) connect(ctx context.Context, code, name, character string) error {
	// Tear down any prior room before the new room's first roster snapshot
	// can arrive, so stale remote players never leak across rooms.
	s.LeaveRoom()

	conn, err := s.transport.Dial(ctx, code)
	if err != nil {
		return fmt.Errorf("dial room %s: %w", code, err)
	}

	playerID := uuid.NewString()
	join := protocol.Message{
		Type:      protocol.TypeJoin,
		PlayerID:  playerID,
		Name:      name,
		Character: character,
	}
	if err := conn.Send(ctx, join); err != nil {
		_ = conn.Close()
		return fmt.Errorf("join room %s: %w", code, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.roomCode = code
	s.playerID = playerID
	s.lastPos = time.Time{}
	s.mu.Unlock()

	go s.readLoop(readCtx, conn)
	return nil
}

// LeaveRoom disconnects and clears all local session state. Safe to call
// when already disconnected; that is a no-op.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.reset()
	s.mu.Unlock()

	if conn != nil {
		cancel()
		_ = conn.Close()
	}
}

// reset must be called with s.mu held.
func (s *Session) reset() {
	s.conn = nil
	s.cancel = nil
	s.roomCode = ""
	s.playerID = ""
	s.lastPos = time.Time{}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		m, err := conn.Receive(ctx)
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.reset()
			}
			s.mu.Unlock()
			// Only an unexpected drop surfaces; a LeaveRoom-initiated close
			// already swapped the conn out and stays silent.
			if current {
				s.emit(Disconnected{Err: err})
			}
			return
		}
		if ev, ok := eventFor(m); ok {
			s.emit(ev)
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Consumer stalled; drop rather than block the receive loop.
	}
}

func (s *Session) StartGame() error {
	return s.send(protocol.Message{Type: protocol.TypeGameStart})
}

// SendPosition is rate-limited to one message per 50ms of wall time;
// over-budget calls are dropped silently so the render loop can call this
// every frame.
func (s *Session) SendPosition(x, y, z, rotation float64) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	now := s.now()
	if now.Sub(s.lastPos) < positionInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastPos = now
	conn, playerID := s.conn, s.playerID
	s.mu.Unlock()

	return s.sendOn(conn, protocol.Message{
		Type:     protocol.TypePosition,
		PlayerID: playerID,
		X:        x,
		Y:        y,
		Z:        z,
		Rotation: rotation,
	})
}

func (s *Session) SendAttack() error {
	return s.send(protocol.Message{Type: protocol.TypeAttack, PlayerID: s.PlayerID()})
}

func (s *Session) SendAttackEnd() error {
	return s.send(protocol.Message{Type: protocol.TypeAttackEnd, PlayerID: s.PlayerID()})
}

func (s *Session) PopBalloons(balloonIDs []string) error {
	return s.send(protocol.Message{
		Type:       protocol.TypeBalloonPop,
		BalloonIDs: balloonIDs,
		PoppedBy:   s.PlayerID(),
	})
}

func (s *Session) CollectGem(gemID string) error {
	return s.send(protocol.Message{
		Type:        protocol.TypeGemCollect,
		GemID:       gemID,
		CollectedBy: s.PlayerID(),
	})
}

func (s *Session) ChangeLevel(level protocol.Level) error {
	return s.send(protocol.Message{Type: protocol.TypeLevelChange, Level: level})
}

func (s *Session) UpdateCharacter(character string) error {
	return s.send(protocol.Message{
		Type:      protocol.TypeCharacterUpdate,
		PlayerID:  s.PlayerID(),
		Character: character,
	})
}

func (s *Session) send(m protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return s.sendOn(conn, m)
}

func (s *Session) sendOn(conn Conn, m protocol.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return conn.Send(ctx, m)
}

// GenerateRoomCode returns a fresh 4-letter upper-case room code.
func GenerateRoomCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	code := make([]byte, 4)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
