// Package capture provides pooled browser capture sessions for fresh
// competitor-site captures.
//
// A fixed-size pool of sessions caps the number of concurrent rendered
// captures independently of how many report workers are running. Acquire
// blocks until a session is free (or the context expires), Release resets
// session state and returns it to the pool; all collector paths release via
// defer so a failed capture can never leak a session.
//
// The Chrome process underneath is shared and managed by Manager, which
// recycles it on memory or uptime thresholds and reconnects transparently.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds are produced at the capture layer so callers never have to
// classify failures from message text.
var (
	// ErrTimeout is returned when navigation or rendering exceeds the
	// request timeout.
	ErrTimeout = errors.New("capture: timed out")
	// ErrNavigation is returned when the page cannot be reached or loaded.
	ErrNavigation = errors.New("capture: navigation failed")
	// ErrInsufficientContent is returned when a page renders but carries
	// less text than the configured minimum.
	ErrInsufficientContent = errors.New("capture: insufficient content")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("capture: pool closed")
)

// Request describes one capture.
type Request struct {
	URL string
	// Timeout bounds the whole capture (navigate + render + extract).
	Timeout time.Duration
	// WaitSelector, if set, is a CSS selector the page must produce before
	// extraction. Useful for client-rendered sites.
	WaitSelector string
}

// Timing is the per-phase latency breakdown of a capture.
type Timing struct {
	Navigate time.Duration
	Wait     time.Duration
	Extract  time.Duration
	Total    time.Duration
}

// Result is a completed rendered capture.
type Result struct {
	HTML       string
	Text       string
	Title      string
	StatusCode int
	Timing     Timing
}

// Config configures the pool and the browser underneath it.
type Config struct {
	// Sessions is the pool size — the cap on concurrent rendered captures.
	// Default: 2.
	Sessions int
	// MinContentLength is the minimum rendered text length for a capture to
	// count as content. Default: 120.
	MinContentLength int
	// DefaultTimeout applies when a Request carries none. Default: 20s.
	DefaultTimeout time.Duration
	// Browser configures the shared Chrome lifecycle.
	Browser ManagerConfig
}

func (c *Config) defaults() {
	if c.Sessions <= 0 {
		c.Sessions = 2
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = 120
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 20 * time.Second
	}
	c.Browser.defaults()
}

func classifyNavError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrNavigation, err)
}
