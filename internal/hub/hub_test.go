package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hferris/balloonburst-online/internal/room"
	"github.com/hferris/balloonburst-online/pkg/protocol"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, zaptest.NewLogger(t))
}

func ensure(t *testing.T, h *Hub, code string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- EnsureRoom{Code: code, Reply: reply}
	select {
	case rm := <-reply:
		require.NotNil(t, rm)
		return rm
	case <-time.After(time.Second):
		t.Fatal("timed out ensuring room")
		return nil
	}
}

func get(t *testing.T, h *Hub, code string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- GetRoom{Code: code, Reply: reply}
	select {
	case rm := <-reply:
		return rm
	case <-time.After(time.Second):
		t.Fatal("timed out getting room")
		return nil
	}
}

func TestHub_EnsureThenGet_SamePointer(t *testing.T) {
	h := newTestHub(t)

	rm1 := ensure(t, h, "ABCD")
	rm2 := ensure(t, h, "ABCD")
	require.Same(t, rm1, rm2)
	require.Same(t, rm1, get(t, h, "ABCD"))
}

func TestHub_GetMissingIsNil(t *testing.T) {
	h := newTestHub(t)
	require.Nil(t, get(t, h, "WXYZ"))
}

func TestHub_RoomsAreIndependent(t *testing.T) {
	h := newTestHub(t)
	require.NotSame(t, ensure(t, h, "AAAA"), ensure(t, h, "BBBB"))
}

func TestHub_EmptyRoomIsEvicted(t *testing.T) {
	h := newTestHub(t)
	rm := ensure(t, h, "ABCD")

	out := make(chan protocol.Message, 16)
	rm.Inbox() <- room.Attach{ConnID: "c1", Outbox: out}
	rm.Inbox() <- room.Inbound{ConnID: "c1", Msg: protocol.Message{
		Type:     protocol.TypeJoin,
		PlayerID: "p1",
		Name:     "Ana",
	}}
	rm.Inbox() <- room.Detach{ConnID: "c1"}

	require.Eventually(t, func() bool {
		return get(t, h, "ABCD") == nil
	}, time.Second, 10*time.Millisecond, "empty room was never evicted")

	// A new attach to the same code gets a fresh room.
	require.NotSame(t, rm, ensure(t, h, "ABCD"))
}
