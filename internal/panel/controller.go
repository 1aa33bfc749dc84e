package panel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lotas/ragex/internal/applog"
	"github.com/lotas/ragex/internal/metrics"
	"github.com/lotas/ragex/internal/ragclient"
	"github.com/lotas/ragex/internal/types"
)

var (
	ErrBusy          = errors.New("another operation is in progress")
	ErrEmptyInput    = errors.New("message is empty")
	ErrNotConnected  = errors.New("session is not connected")
	ErrNoEligibleTab = errors.New("cannot connect to this page")
)

const maxTitleLen = 15

// WelcomeQuestions are offered after every successful connect.
var WelcomeQuestions = []string{
	"What is this page about?",
	"What are the main topics?",
	"Summarize this page",
}

// TabSource reports the browser's active tab.
type TabSource interface {
	CurrentTab(ctx context.Context) (types.Tab, error)
}

// Backend is the subset of the retrieval API the panel uses.
type Backend interface {
	Index(ctx context.Context, url string, maxPages int) error
	WaitForAnalysis(ctx context.Context, url string) (*types.Analysis, bool, error)
	Query(ctx context.Context, req ragclient.QueryRequest) (*ragclient.QueryResponse, error)
}

// Op is the operation holding the processing flag.
type Op int

const (
	OpNone Op = iota
	OpConnect
	OpSend
)

// Controller runs connect and send against the active session. A single
// processing flag admits one operation at a time; others are rejected.
// Results are applied to the session that started the operation, even if
// the user has switched away, and dropped if it was closed.
type Controller struct {
	store   *Store
	backend Backend
	tabs    TabSource

	maxPages atomic.Int64
	busy     atomic.Bool

	mu        sync.Mutex
	op        Op
	opSession string

	now func() time.Time
}

func NewController(store *Store, backend Backend, tabs TabSource, maxPages int) *Controller {
	c := &Controller{store: store, backend: backend, tabs: tabs, now: time.Now}
	c.maxPages.Store(int64(maxPages))
	return c
}

// SetMaxPages changes the crawl limit used by subsequent connects.
func (c *Controller) SetMaxPages(n int) {
	c.maxPages.Store(int64(n))
}

// Store returns the underlying session store.
func (c *Controller) Store() *Store {
	return c.store
}

// Busy reports the operation in flight and the session it belongs to.
func (c *Controller) Busy() (Op, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op, c.opSession
}

func (c *Controller) acquire() bool {
	return c.busy.CompareAndSwap(false, true)
}

func (c *Controller) setOp(op Op, sessionID string) {
	c.mu.Lock()
	c.op, c.opSession = op, sessionID
	c.mu.Unlock()
	c.store.changed()
}

func (c *Controller) release() {
	c.setOp(OpNone, "")
	c.busy.Store(false)
}

// ShortTitle derives a tab title from a hostname.
func ShortTitle(host string) string {
	host = strings.TrimPrefix(host, "www.")
	if r := []rune(host); len(r) > maxTitleLen {
		return string(r[:maxTitleLen])
	}
	return host
}

// Connect binds the active session to the current browser tab, indexes it
// and waits for its analysis.
func (c *Controller) Connect(ctx context.Context) error {
	if !c.acquire() {
		metrics.Scans.WithLabelValues("rejected").Inc()
		return ErrBusy
	}
	defer c.release()

	tab, err := c.tabs.CurrentTab(ctx)
	if err != nil || !tab.IsHTTP() {
		applog.Warn("connect.no_tab", "url", tab.URL, "err", err)
		metrics.Scans.WithLabelValues("rejected").Inc()
		return ErrNoEligibleTab
	}
	u, err := url.Parse(tab.URL)
	if err != nil || u.Hostname() == "" {
		metrics.Scans.WithLabelValues("rejected").Inc()
		return ErrNoEligibleTab
	}

	sess, ok := c.store.Active()
	if !ok {
		metrics.Scans.WithLabelValues("rejected").Inc()
		return ErrNoEligibleTab
	}
	id := sess.ID
	host := u.Hostname()
	c.setOp(OpConnect, id)

	c.store.ClearNotices(id)
	if _, err := c.store.Update(ctx, id, func(s *types.Session) {
		s.URL = tab.URL
		s.Title = ShortTitle(host)
		s.IsConnected = false
		s.History = nil
		s.Analysis = nil
	}); err != nil {
		applog.Error("connect.persist", err, "session", id)
	}
	applog.Info("connect.start", "session", id, "url", tab.URL)

	if err := c.backend.Index(ctx, tab.URL, int(c.maxPages.Load())); err != nil {
		applog.Error("connect.index", err, "session", id, "url", tab.URL)
		metrics.Scans.WithLabelValues("error").Inc()
		return fmt.Errorf("connection failed: %w", err)
	}

	analysis, timedOut, err := c.backend.WaitForAnalysis(ctx, tab.URL)
	if err != nil {
		applog.Error("connect.analyze", err, "session", id)
		metrics.Scans.WithLabelValues("error").Inc()
		return fmt.Errorf("connection failed: %w", err)
	}
	if analysis == nil {
		analysis = types.DefaultAnalysis()
	}

	welcome := types.Turn{
		Role:    types.RoleAssistant,
		Content: fmt.Sprintf("I've successfully indexed **%s**. What would you like to know?", host),
		Meta:    &types.Meta{SuggestedQuestions: append([]string(nil), WelcomeQuestions...)},
	}
	found, err := c.store.Update(ctx, id, func(s *types.Session) {
		s.IsConnected = true
		s.Analysis = analysis
		s.History = append(s.History, welcome)
	})
	if !found {
		applog.Warn("connect.discarded", "session", id, "reason", "session closed")
		return nil
	}
	if err != nil {
		applog.Error("connect.persist", err, "session", id)
	}

	result := "ok"
	if timedOut {
		result = "default_analysis"
	}
	metrics.Scans.WithLabelValues(result).Inc()
	applog.Info("connect.done", "session", id, "type", analysis.Type, "result", result)
	return nil
}

// Send asks a question in the active session. The user turn is recorded
// before the request; a failed request leaves only a view-only notice.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	if !c.acquire() {
		metrics.Queries.WithLabelValues("rejected").Inc()
		return ErrBusy
	}
	defer c.release()

	sess, ok := c.store.Active()
	if !ok || !sess.IsConnected {
		metrics.Queries.WithLabelValues("rejected").Inc()
		return ErrNotConnected
	}
	id := sess.ID

	// Turns before this question; the question itself travels as Question.
	history := make([]ragclient.HistoryItem, 0, len(sess.History))
	for _, t := range sess.History {
		if t.Content == "" {
			continue
		}
		history = append(history, ragclient.HistoryItem{Role: t.Role, Content: t.Content})
	}

	c.store.ClearNotices(id)
	if _, err := c.store.Update(ctx, id, func(s *types.Session) {
		s.History = append(s.History, types.Turn{Role: types.RoleUser, Content: text})
	}); err != nil {
		applog.Error("send.persist", err, "session", id)
	}
	c.setOp(OpSend, id)

	start := c.now()
	resp, err := c.backend.Query(ctx, ragclient.QueryRequest{Question: text, History: history, URL: sess.URL})
	elapsed := c.now().Sub(start)
	metrics.QueryDuration.Observe(elapsed.Seconds())
	c.setOp(OpNone, "")

	if err != nil {
		metrics.Queries.WithLabelValues("error").Inc()
		applog.Error("send.query", err, "session", id, "elapsed", elapsed)
		c.store.AddNotice(id, types.Turn{Role: types.RoleAssistant, Content: noticeText(err)})
		return err
	}

	reply := types.Turn{
		Role:    types.RoleAssistant,
		Content: resp.Answer,
		Meta: &types.Meta{
			Sources:            resp.Sources,
			Confidence:         resp.ResolvedConfidence(),
			Time:               elapsed.Seconds(),
			SuggestedQuestions: resp.SuggestedQuestions,
		},
	}
	found, err := c.store.Update(ctx, id, func(s *types.Session) {
		s.History = append(s.History, reply)
	})
	if !found {
		applog.Warn("send.discarded", "session", id, "reason", "session closed")
		return nil
	}
	if err != nil {
		applog.Error("send.persist", err, "session", id)
	}
	metrics.Queries.WithLabelValues("ok").Inc()
	applog.Info("send.done", "session", id, "elapsed", elapsed, "sources", len(resp.Sources))
	return nil
}

// noticeText formats a failed query for display.
func noticeText(err error) string {
	var apiErr *ragclient.APIError
	if errors.As(err, &apiErr) {
		return "Error: " + apiErr.Detail
	}
	return "Network Error: " + err.Error()
}
