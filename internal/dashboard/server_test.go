package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	server := NewServer(st, &Config{
		Port:   0, // random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dialClient(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestWebSocketHello(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeHello {
		t.Errorf("first message type = %s, want %s", msg.Type, MessageTypeHello)
	}
	if count := server.ClientCount(); count != 1 {
		t.Errorf("client count = %d, want 1", count)
	}
}

func TestSyncCompletedBroadcast(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)
	readMessage(t, ctx, conn) // hello

	ref := ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: "acc-1"}
	server.SyncCompleted(ref, ledger.SyncStatusCompleted)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("message type = %s, want %s", msg.Type, MessageTypeSyncComplete)
	}
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal data: %v", err)
	}
	if data.SyncableType != "account" || data.SyncableID != "acc-1" || data.Status != "completed" {
		t.Errorf("data = %+v", data)
	}

	// Completed account syncs are followed by a balance refresh signal.
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeBalancesUpdated {
		t.Errorf("second message type = %s, want %s", msg.Type, MessageTypeBalancesUpdated)
	}
}

func TestFailedSyncSkipsBalanceRefresh(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialClient(t, ctx, server)
	readMessage(t, ctx, conn) // hello

	ref := ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: "acc-1"}
	server.SyncCompleted(ref, ledger.SyncStatusFailed)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("message type = %s, want %s", msg.Type, MessageTypeSyncComplete)
	}

	// No balances_updated should follow; send a second completion and
	// verify it is the very next message.
	server.SyncCompleted(ref, ledger.SyncStatusFailed)
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Errorf("message type = %s, want %s (no balance refresh for failed sync)",
			msg.Type, MessageTypeSyncComplete)
	}
}
