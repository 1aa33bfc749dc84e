package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lotas/ragex/internal/types"
	"nhooyr.io/websocket"
)

func dial(t *testing.T, srv *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg IncomingMsg) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, ctx context.Context, conn *websocket.Conn) OutgoingMsg {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got OutgoingMsg
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return got
}

func TestTabEventsUpdateCurrentTab(t *testing.T) {
	srv := New(0)
	conn, ctx := dial(t, srv)

	if _, err := srv.CurrentTab(ctx); !errors.Is(err, ErrNoActiveTab) {
		t.Fatalf("expected ErrNoActiveTab, got %v", err)
	}

	send(t, ctx, conn, IncomingMsg{Type: TypeTabActivated, Tab: &types.Tab{ID: 4, URL: "https://example.com/", Title: "Example"}})

	select {
	case msg := <-srv.Messages():
		if msg.Type != TypeTabActivated {
			t.Errorf("got type %q, want %s", msg.Type, TypeTabActivated)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	tab, err := srv.CurrentTab(ctx)
	if err != nil {
		t.Fatalf("CurrentTab: %v", err)
	}
	if tab.ID != 4 || tab.URL != "https://example.com/" {
		t.Errorf("unexpected tab %+v", tab)
	}
}

func TestTabRemovedClearsCurrent(t *testing.T) {
	srv := New(0)
	srv.SetCurrentTab(types.Tab{ID: 9, URL: "https://example.com/"})

	srv.handle(IncomingMsg{Type: TypeTabRemoved, TabID: 3})
	if _, err := srv.CurrentTab(context.Background()); err != nil {
		t.Fatalf("removing another tab cleared current: %v", err)
	}
	srv.handle(IncomingMsg{Type: TypeTabRemoved, TabID: 9})
	if _, err := srv.CurrentTab(context.Background()); !errors.Is(err, ErrNoActiveTab) {
		t.Fatalf("expected ErrNoActiveTab, got %v", err)
	}
}

func TestGetCurrentTabRequest(t *testing.T) {
	srv := New(0)
	conn, ctx := dial(t, srv)

	send(t, ctx, conn, IncomingMsg{Type: TypeGetCurrentTab, ID: "r1"})
	got := recv(t, ctx, conn)
	if got.ID != "r1" || got.Success == nil || *got.Success || got.Error != "No active tab" {
		t.Errorf("unexpected reply %+v", got)
	}

	srv.SetCurrentTab(types.Tab{ID: 2, URL: "https://go.dev/", Title: "Go"})
	send(t, ctx, conn, IncomingMsg{Type: TypeGetCurrentTab, ID: "r2"})
	got = recv(t, ctx, conn)
	if got.ID != "r2" || got.Success == nil || !*got.Success {
		t.Fatalf("unexpected reply %+v", got)
	}
	if got.Tab == nil || got.Tab.URL != "https://go.dev/" || got.Tab.Title != "Go" {
		t.Errorf("unexpected tab %+v", got.Tab)
	}
}

func TestPingAndUnknown(t *testing.T) {
	srv := New(0)
	conn, ctx := dial(t, srv)

	send(t, ctx, conn, IncomingMsg{Type: TypePing, ID: "p"})
	got := recv(t, ctx, conn)
	if got.ID != "p" || got.Success == nil || !*got.Success || got.Message != "pong" {
		t.Errorf("unexpected ping reply %+v", got)
	}

	send(t, ctx, conn, IncomingMsg{Type: "NOPE", ID: "u"})
	got = recv(t, ctx, conn)
	if got.ID != "u" || got.Success == nil || *got.Success || got.Error != "Unknown message type" {
		t.Errorf("unexpected unknown reply %+v", got)
	}
}

func TestServerSendsFrame(t *testing.T) {
	srv := New(0)
	conn, ctx := dial(t, srv)

	// Give server a moment to register the connection
	deadline := time.Now().Add(time.Second)
	for !srv.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := srv.Send(OutgoingMsg{Type: TypeKeepalive}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := recv(t, ctx, conn); got.Type != TypeKeepalive {
		t.Errorf("got %+v, want keepalive", got)
	}
}

func TestSendWithoutConnectionIsNoop(t *testing.T) {
	if err := New(0).Send(OutgoingMsg{Type: TypeKeepalive}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestRunKeepalive(t *testing.T) {
	srv := New(0)
	var touches atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		srv.RunKeepalive(ctx, 5*time.Millisecond, func(context.Context) error {
			if touches.Add(1) == 1 {
				return errors.New("locked")
			}
			return nil
		})
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for touches.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := touches.Load(); n < 3 {
		t.Errorf("touch ran %d times, want at least 3 (errors must not stop the loop)", n)
	}
}

func TestMuxServesMetrics(t *testing.T) {
	ts := httptest.NewServer(New(0).Mux())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ragex_extension_connected") {
		t.Errorf("metrics output missing extension gauge")
	}
}
