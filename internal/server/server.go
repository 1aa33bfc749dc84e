package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lotas/ragex/internal/applog"
	"github.com/lotas/ragex/internal/metrics"
	"github.com/lotas/ragex/internal/types"
	"nhooyr.io/websocket"
)

// Message types sent by the extension.
const (
	TypeTabActivated  = "tab.activated"
	TypeTabUpdated    = "tab.updated"
	TypeTabRemoved    = "tab.removed"
	TypeActionClicked = "action.clicked"
	TypeGetCurrentTab = "GET_CURRENT_TAB"
	TypePing          = "PING"

	TypeKeepalive = "keepalive"
)

// ErrNoActiveTab is returned by CurrentTab before the extension has
// reported a tab.
var ErrNoActiveTab = errors.New("no active tab")

// IncomingMsg is a message from the extension. Requests carry an ID and
// get exactly one reply; events do not.
type IncomingMsg struct {
	Type  string     `json:"type"`
	ID    string     `json:"id,omitempty"`
	Tab   *types.Tab `json:"tab,omitempty"`
	TabID int        `json:"tabId,omitempty"`
}

// OutgoingMsg is a reply to a request, or a pushed frame when Type is set.
type OutgoingMsg struct {
	ID      string     `json:"id,omitempty"`
	Type    string     `json:"type,omitempty"`
	Success *bool      `json:"success,omitempty"`
	Tab     *types.Tab `json:"tab,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func reply(id string, ok bool) OutgoingMsg {
	return OutgoingMsg{ID: id, Success: &ok}
}

// Server manages the WebSocket connection to the extension and tracks the
// browser's active tab.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	current *types.Tab
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port: port,
		msgs: make(chan IncomingMsg, 64),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns tab and action events from the extension. Requests are
// answered by the server and never appear here.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// CurrentTab returns the last tab the extension reported as active.
func (s *Server) CurrentTab(ctx context.Context) (types.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.Tab{}, ErrNoActiveTab
	}
	return *s.current, nil
}

// SetCurrentTab records tab as the active one.
func (s *Server) SetCurrentTab(tab types.Tab) {
	s.mu.Lock()
	s.current = &tab
	s.mu.Unlock()
}

// Send writes a frame to the connected extension. It is a no-op when
// nothing is connected.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return write(ctx, conn, msg)
}

func write(ctx context.Context, conn *websocket.Conn, msg OutgoingMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}
		conn.SetReadLimit(1 << 20)

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()
		metrics.ExtensionConnected.Set(1)

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
				metrics.ExtensionConnected.Set(0)
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type, "id", msg.ID)
			if out, ok := s.handle(msg); ok {
				if err := write(ctx, conn, out); err != nil {
					applog.Error("ws.reply", err, "type", msg.Type)
					return
				}
			}
		}
	})
}

// handle applies msg and returns the reply, if any.
func (s *Server) handle(msg IncomingMsg) (OutgoingMsg, bool) {
	switch msg.Type {
	case TypeTabActivated, TypeTabUpdated, TypeActionClicked:
		if msg.Tab != nil {
			s.SetCurrentTab(*msg.Tab)
		}
		s.forward(msg)
		return OutgoingMsg{}, false

	case TypeTabRemoved:
		s.mu.Lock()
		if s.current != nil && s.current.ID == msg.TabID {
			s.current = nil
		}
		s.mu.Unlock()
		s.forward(msg)
		return OutgoingMsg{}, false

	case TypeGetCurrentTab:
		tab, err := s.CurrentTab(context.Background())
		if err != nil {
			out := reply(msg.ID, false)
			out.Error = "No active tab"
			return out, true
		}
		out := reply(msg.ID, true)
		out.Tab = &tab
		return out, true

	case TypePing:
		out := reply(msg.ID, true)
		out.Message = "pong"
		return out, true
	}

	applog.Warn("ws.unknown", "type", msg.Type)
	out := reply(msg.ID, false)
	out.Error = "Unknown message type"
	return out, true
}

func (s *Server) forward(msg IncomingMsg) {
	select {
	case s.msgs <- msg:
	default:
	}
}

// RunKeepalive performs touch and pushes a keepalive frame every interval
// until ctx is done. A failed touch is logged and the loop continues.
func (s *Server) RunKeepalive(ctx context.Context, interval time.Duration, touch func(context.Context) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if touch != nil {
				if err := touch(ctx); err != nil {
					applog.Error("keepalive.touch", err)
				}
			}
			if err := s.Send(OutgoingMsg{Type: TypeKeepalive}); err != nil {
				applog.Warn("keepalive.send", "err", err)
			}
		}
	}
}

// Mux routes the extension socket at / and Prometheus metrics at /metrics.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", s.Handler())
	return mux
}

// ListenAndServe starts the server on 127.0.0.1 at the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: s.Mux()}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
