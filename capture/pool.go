package capture

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Session is an exclusive capture slot. It is not safe for concurrent use;
// hold it only between Acquire and Release.
type Session struct {
	id   int
	pool *Pool
}

// Pool hands out capture sessions with exclusive acquisition.
type Pool struct {
	cfg     Config
	manager *Manager
	slots   chan *Session
	closed  atomic.Bool
}

// NewPool creates the session pool around a started Manager.
func NewPool(cfg Config, manager *Manager) *Pool {
	cfg.defaults()
	p := &Pool{
		cfg:     cfg,
		manager: manager,
		slots:   make(chan *Session, cfg.Sessions),
	}
	for i := 0; i < cfg.Sessions; i++ {
		p.slots <- &Session{id: i, pool: p}
	}
	return p
}

// Acquire blocks until a session is free or ctx expires.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	select {
	case s := <-p.slots:
		return s, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("capture: acquire: %w", ctx.Err())
	}
}

// Release returns a session to the pool. Safe to call exactly once per
// Acquire; the deferred call pattern in the collector guarantees this on
// every exit path.
func (p *Pool) Release(s *Session) {
	if s == nil || p.closed.Load() {
		return
	}
	p.slots <- s
}

// Close marks the pool closed. In-flight captures finish; new Acquires fail.
func (p *Pool) Close() {
	p.closed.Store(true)
}

// Available reports how many sessions are currently free.
func (p *Pool) Available() int {
	return len(p.slots)
}

// Capture acquires a session, performs the capture, and releases the
// session. This is the entry point the collector uses.
func (p *Pool) Capture(ctx context.Context, req Request) (*Result, error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(s)
	return s.Capture(ctx, req)
}

// Capture renders req.URL in a fresh stealth page and extracts HTML, text,
// and title. The page is always closed before returning, which is the
// session-state reset.
func (s *Session) Capture(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.pool.cfg.DefaultTimeout
	}
	capCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := s.pool.manager.Browser()
	if b == nil {
		return nil, fmt.Errorf("%w: no active browser", ErrNavigation)
	}

	start := time.Now()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, classifyNavError(err)
	}
	defer page.Close()
	page = page.Context(capCtx)

	if len(s.pool.cfg.Browser.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, s.pool.cfg.Browser.ResourceBlocking); err != nil {
			s.pool.cfg.Browser.Logger.Warn("capture: resource blocking failed", "error", err)
		}
	}

	// Record the document response status as it arrives. Best-effort: some
	// navigations (cache hits) produce no observable document response.
	var status atomic.Int64
	go page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			status.Store(int64(e.Response.Status))
			return true
		}
		return false
	})()

	if err := page.Navigate(req.URL); err != nil {
		return nil, wrapCtxErr(capCtx, classifyNavError(err))
	}
	navDone := time.Now()

	if err := page.WaitLoad(); err != nil {
		return nil, wrapCtxErr(capCtx, classifyNavError(err))
	}
	if req.WaitSelector != "" {
		if _, err := page.Element(req.WaitSelector); err != nil {
			return nil, wrapCtxErr(capCtx, fmt.Errorf("%w: selector %q: %v", ErrNavigation, req.WaitSelector, err))
		}
	}
	waitDone := time.Now()

	htmlRes, err := page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, wrapCtxErr(capCtx, classifyNavError(err))
	}
	textRes, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, wrapCtxErr(capCtx, classifyNavError(err))
	}
	titleRes, err := page.Eval(`() => document.title`)
	if err != nil {
		return nil, wrapCtxErr(capCtx, classifyNavError(err))
	}
	end := time.Now()

	text := strings.TrimSpace(textRes.Value.Str())
	if len(text) < s.pool.cfg.MinContentLength {
		return nil, fmt.Errorf("%w: %d chars rendered (min %d)",
			ErrInsufficientContent, len(text), s.pool.cfg.MinContentLength)
	}

	return &Result{
		HTML:       htmlRes.Value.Str(),
		Text:       text,
		Title:      strings.TrimSpace(titleRes.Value.Str()),
		StatusCode: int(status.Load()),
		Timing: Timing{
			Navigate: navDone.Sub(start),
			Wait:     waitDone.Sub(navDone),
			Extract:  end.Sub(waitDone),
			Total:    end.Sub(start),
		},
	}, nil
}

// wrapCtxErr maps a failure under an expired context to ErrTimeout so
// callers see the capture-layer kind, not a raw context error.
func wrapCtxErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
