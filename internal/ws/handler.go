// Package ws adapts a websocket connection to a room's inbox/outbox. One
// reader loop and one writer goroutine per connection; the room never
// touches the socket and the handler never touches room state.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hferris/balloonburst-online/internal/hub"
	"github.com/hferris/balloonburst-online/internal/room"
	"github.com/hferris/balloonburst-online/pkg/protocol"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

func Handler(h *hub.Hub, log *zap.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := protocol.NormalizeRoomCode(r.URL.Query().Get("code"))
		if err != nil {
			http.Error(w, "bad room code", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		var out chan protocol.Message

		// Rooms come into existence on first attach and may evict
		// themselves concurrently. A send into the inbox is not enough: the
		// room could stop with the attach still queued. The roster snapshot
		// the room pushes on attach doubles as the confirmation, so wait
		// for it and retry on a fresh room whenever the race is lost.
		var (
			rm    *room.Room
			first protocol.Message
		)
	attach:
		for {
			reply := make(chan *room.Room, 1)
			h.Inbox() <- hub.EnsureRoom{Code: code, Reply: reply}
			select {
			case rm = <-reply:
			case <-r.Context().Done():
				return
			}

			out = make(chan protocol.Message, outboxSize)
			select {
			case rm.Inbox() <- room.Attach{ConnID: connID, Outbox: out}:
			case <-rm.Done():
				continue
			case <-r.Context().Done():
				return
			}

			select {
			case m, ok := <-out:
				if !ok {
					// The room stopped before registering us and closed the
					// pending outbox.
					continue
				}
				first = m
				break attach
			case <-rm.Done():
				continue
			case <-r.Context().Done():
				return
			}
		}
		defer func() {
			select {
			case rm.Inbox() <- room.Detach{ConnID: connID}:
			case <-rm.Done():
			}
		}()

		// Writer goroutine: sends the snapshot consumed as the attach
		// confirmation, then drains the room's outbox until the room closes
		// it (shutdown or slow-consumer drop).
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			write := func(msg protocol.Message) {
				payload, err := protocol.Encode(msg)
				if err != nil {
					return
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
			write(first)
			for msg := range out {
				write(msg)
			}
			writeCancel()
		}()

		// Reading off writeCtx means a slow-consumer drop (which closes the
		// outbox and ends the writer) also ends the read loop.
		for {
			_, data, err := conn.Read(writeCtx)
			if err != nil {
				// Clean close, going-away, or a dead transport: either way
				// the deferred detach synthesizes the leave.
				return
			}

			msg, err := protocol.Decode(data)
			if err != nil {
				// Malformed input is logged and dropped; it never reaches
				// the room and never tears the connection down.
				log.Debug("dropping undecodable message",
					zap.String("room", code),
					zap.String("conn", connID),
					zap.Error(err))
				continue
			}

			select {
			case rm.Inbox() <- room.Inbound{ConnID: connID, Msg: msg}:
			case <-rm.Done():
				return
			}
		}
	}
}
