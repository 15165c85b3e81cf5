// Package room holds the authoritative state machine for one session: the
// roster, host identity, shared event ledgers and game phase. Each Room is a
// single-goroutine actor; every message for a room code goes through its
// inbox, so the state needs no locking.
package room

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/hferris/balloonburst-online/pkg/protocol"
)

// MaxPlayers is the hard roster cap, enforced only at join time.
const MaxPlayers = 4

type Msg interface{ isRoomMsg() }

// Attach registers a connection's outbox. The room immediately pushes a
// roster snapshot to it, plus a sync_state snapshot when the game is already
// running so a late joiner reconstructs world state without replaying
// history.
type Attach struct {
	ConnID string
	Outbox chan protocol.Message
}

func (Attach) isRoomMsg() {}

// Detach is sent on connection loss or handler exit. If the connection ever
// joined a player, the room synthesizes a leave for it; otherwise it takes
// no roster action.
type Detach struct{ ConnID string }

func (Detach) isRoomMsg() {}

// Inbound is one decoded wire message from a specific connection.
type Inbound struct {
	ConnID string
	Msg    protocol.Message
}

func (Inbound) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// GetView is test-only: reflect internal state without data races.
type GetView struct {
	Reply chan View
}

func (GetView) isRoomMsg() {}

type View struct {
	Phase          protocol.Phase
	Level          protocol.Level
	HostID         string
	Players        []protocol.PlayerState
	PoppedBalloons []string
	CollectedGems  []string
	NumConns       int
}

type Room struct {
	code  string
	inbox chan Msg
	log   *zap.Logger

	phase     protocol.Phase
	level     protocol.Level
	players   map[string]*protocol.PlayerState
	joinOrder []string // host succession goes to the longest-tenured survivor

	popped map[string]struct{}
	gems   map[string]struct{}

	conns      map[string]chan protocol.Message
	connPlayer map[string]string

	onEmpty func(code string)
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRoom starts the actor. onEmpty is invoked (from the room goroutine)
// right before the room stops itself because the last player and connection
// are gone; the registry uses it to evict the code.
func NewRoom(parent context.Context, code string, log *zap.Logger, onEmpty func(code string)) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		code:       code,
		inbox:      make(chan Msg, 64),
		log:        log.With(zap.String("room", code)),
		phase:      protocol.PhaseLobby,
		level:      protocol.DefaultLevel,
		players:    make(map[string]*protocol.PlayerState),
		popped:     make(map[string]struct{}),
		gems:       make(map[string]struct{}),
		conns:      make(map[string]chan protocol.Message),
		connPlayer: make(map[string]string),
		onEmpty:    onEmpty,
		ctx:        ctx,
		cancel:     cancel,
	}

	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has stopped; senders should select against it
// so an attach racing with eviction never blocks forever.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) Code() string { return r.code }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				r.conns[msg.ConnID] = msg.Outbox
				r.sendTo(msg.ConnID, r.rosterMsg())
				if r.phase == protocol.PhaseActive {
					r.sendTo(msg.ConnID, r.syncMsg())
				}
				// An attach whose snapshot couldn't even land may have been
				// dropped straight away.
				if r.maybeEvict() {
					return
				}

			case Detach:
				r.detach(msg.ConnID)
				if r.maybeEvict() {
					return
				}

			case Inbound:
				r.handle(msg.ConnID, msg.Msg)
				if r.maybeEvict() {
					return
				}

			case GetView:
				msg.Reply <- r.view()

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handle(connID string, m protocol.Message) {
	switch m.Type {
	case protocol.TypeJoin:
		r.handleJoin(connID, m)

	case protocol.TypeLeave:
		r.removePlayer(m.PlayerID)

	case protocol.TypePosition:
		p, ok := r.players[m.PlayerID]
		if !ok {
			r.log.Debug("position for unknown player", zap.String("player", m.PlayerID))
			return
		}
		p.X, p.Y, p.Z, p.Rotation = m.X, m.Y, m.Z, m.Rotation
		r.broadcastExcept(connID, m)

	case protocol.TypeAttack, protocol.TypeAttackEnd:
		p, ok := r.players[m.PlayerID]
		if !ok {
			r.log.Debug("attack for unknown player", zap.String("player", m.PlayerID))
			return
		}
		p.Attacking = m.Type == protocol.TypeAttack
		r.broadcastExcept(connID, m)

	case protocol.TypeCharacterUpdate:
		p, ok := r.players[m.PlayerID]
		if !ok {
			r.log.Debug("character update for unknown player", zap.String("player", m.PlayerID))
			return
		}
		p.Character = m.Character
		// Full roster, not a delta, so every client resyncs appearance.
		r.broadcast(r.rosterMsg())

	case protocol.TypeBalloonPop:
		if r.phase != protocol.PhaseActive {
			return
		}
		// Re-adding an already-popped id is a no-op on the set, but the
		// message still rebroadcasts; receivers dedupe on their side. Any
		// player may report a pop, host or not.
		for _, id := range m.BalloonIDs {
			r.popped[id] = struct{}{}
		}
		r.broadcast(m)

	case protocol.TypeGemCollect:
		if r.phase != protocol.PhaseActive {
			return
		}
		// The one dedup guard in the protocol: a second report of the same
		// gem is dropped outright so a race between two collectors can
		// never double-score.
		if _, taken := r.gems[m.GemID]; taken {
			return
		}
		r.gems[m.GemID] = struct{}{}
		r.broadcast(m)

	case protocol.TypeLevelChange:
		r.level = m.Level
		if m.Level == protocol.GemLevel {
			clear(r.gems)
		}
		r.broadcast(m)

	case protocol.TypeGameStart:
		// No host check: any connection may start. Deliberate leniency.
		r.phase = protocol.PhaseActive
		clear(r.popped)
		clear(r.gems)
		r.level = protocol.DefaultLevel
		r.broadcast(protocol.Message{Type: protocol.TypeGameStart})

	default:
		r.log.Warn("unhandled message type", zap.String("type", string(m.Type)))
	}
}

func (r *Room) handleJoin(connID string, m protocol.Message) {
	if len(r.players) >= MaxPlayers {
		r.sendTo(connID, protocol.Message{Type: protocol.TypeError, Error: "Room is full"})
		return
	}

	// Duplicate ids silently overwrite the entry but keep original tenure.
	if !slices.Contains(r.joinOrder, m.PlayerID) {
		r.joinOrder = append(r.joinOrder, m.PlayerID)
	}
	r.players[m.PlayerID] = &protocol.PlayerState{
		ID:        m.PlayerID,
		Name:      m.Name,
		Character: m.Character,
	}
	r.connPlayer[connID] = m.PlayerID

	r.log.Info("player joined",
		zap.String("player", m.PlayerID),
		zap.String("name", m.Name),
		zap.Int("roster", len(r.players)))

	r.broadcast(r.rosterMsg())
}

// hostID derives the host from join order: the longest-tenured member still
// in the roster, or "" when the roster is empty.
func (r *Room) hostID() string {
	for _, id := range r.joinOrder {
		if _, ok := r.players[id]; ok {
			return id
		}
	}
	return ""
}

func (r *Room) removePlayer(playerID string) {
	if _, ok := r.players[playerID]; !ok {
		return
	}
	delete(r.players, playerID)
	r.joinOrder = slices.DeleteFunc(r.joinOrder, func(id string) bool { return id == playerID })
	for cid, pid := range r.connPlayer {
		if pid == playerID {
			delete(r.connPlayer, cid)
		}
	}

	r.log.Info("player left", zap.String("player", playerID), zap.Int("roster", len(r.players)))

	// Roster for the authoritative diff, plus an explicit leave so clients
	// despawn the remote player immediately.
	r.broadcast(r.rosterMsg())
	r.broadcast(protocol.Message{Type: protocol.TypeLeave, PlayerID: playerID})
}

func (r *Room) detach(connID string) {
	delete(r.conns, connID)
	playerID, ok := r.connPlayer[connID]
	if !ok {
		// Never joined (or association already cleared); nothing to
		// synthesize. A roster entry whose connection we lost track of
		// persists as a ghost until cleaned explicitly.
		return
	}
	delete(r.connPlayer, connID)
	r.removePlayer(playerID)
}

// maybeEvict stops the room once the last player and connection are gone.
// Rooms have no teardown message; becoming empty is the teardown.
func (r *Room) maybeEvict() bool {
	if len(r.players) > 0 || len(r.conns) > 0 {
		return false
	}
	if r.onEmpty != nil {
		r.onEmpty(r.code)
	}
	r.log.Info("room empty, stopping")
	r.shutdown()
	return true
}

func (r *Room) rosterMsg() protocol.Message {
	players := make([]protocol.PlayerState, 0, len(r.players))
	for _, id := range r.joinOrder {
		if p, ok := r.players[id]; ok {
			players = append(players, *p)
		}
	}
	return protocol.Message{
		Type:    protocol.TypeRoster,
		Players: players,
		HostID:  r.hostID(),
	}
}

func (r *Room) syncMsg() protocol.Message {
	m := r.rosterMsg()
	m.Type = protocol.TypeSyncState
	m.Phase = r.phase
	m.Level = r.level
	m.PoppedBalloons = sortedKeys(r.popped)
	m.CollectedGems = sortedKeys(r.gems)
	return m
}

func (r *Room) view() View {
	return View{
		Phase:          r.phase,
		Level:          r.level,
		HostID:         r.hostID(),
		Players:        r.rosterMsg().Players,
		PoppedBalloons: sortedKeys(r.popped),
		CollectedGems:  sortedKeys(r.gems),
		NumConns:       len(r.conns),
	}
}

func (r *Room) sendTo(connID string, m protocol.Message) {
	ch, ok := r.conns[connID]
	if !ok {
		return
	}
	select {
	case ch <- m:
	default:
		r.dropConn(connID)
	}
}

func (r *Room) broadcast(m protocol.Message) {
	r.broadcastExcept("", m)
}

// broadcastExcept fans out to every connection but the named one. Position
// and attack traffic excludes the sender: it already knows its own
// authoritative transform, so echoing it back is wasted bandwidth.
func (r *Room) broadcastExcept(exceptConnID string, m protocol.Message) {
	var slow []string
	for id, ch := range r.conns {
		if id == exceptConnID {
			continue
		}
		select {
		case ch <- m:
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		r.dropConn(id)
	}
}

// dropConn disconnects a consumer that can't keep up. The close tells its
// writer goroutine to exit; the synthesized detach removes its player.
func (r *Room) dropConn(connID string) {
	ch, ok := r.conns[connID]
	if !ok {
		return
	}
	r.log.Warn("dropping slow connection", zap.String("conn", connID))
	close(ch)
	r.detach(connID)
}

func (r *Room) shutdown() {
	for id, ch := range r.conns {
		close(ch)
		delete(r.conns, id)
	}
	r.cancel()

	// Reject whatever raced into the inbox before Done() closed. A pending
	// attach in particular must have its outbox closed, or the connection
	// behind it would wait forever for a roster snapshot that can't come.
	for {
		select {
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				close(msg.Outbox)
			case GetView:
				select {
				case msg.Reply <- r.view():
				default:
				}
			}
		default:
			return
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
