package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPool(t *testing.T, sessions int) *Pool {
	t.Helper()
	// No Manager.Start: these tests exercise pool mechanics only, never a
	// real browser.
	return NewPool(Config{Sessions: sessions}, NewManager(ManagerConfig{}))
}

func TestPool_AcquireRelease(t *testing.T) {
	p := newTestPool(t, 2)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.Available() != 0 {
		t.Fatalf("available = %d, want 0", p.Available())
	}

	p.Release(s1)
	p.Release(s2)
	if p.Available() != 2 {
		t.Fatalf("available = %d, want 2", p.Available())
	}
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	// WHAT: a full pool blocks Acquire; Release unblocks exactly one waiter.
	// WHY: the pool size caps concurrent fresh captures independently of the
	// worker count.
	p := newTestPool(t, 1)
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan *Session)
	go func() {
		s2, err := p.Acquire(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		acquired <- s2
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the pool is empty")
	case <-time.After(30 * time.Millisecond):
	}

	p.Release(s)
	select {
	case s2 := <-acquired:
		p.Release(s2)
	case <-time.After(time.Second):
		t.Fatal("release did not unblock the waiter")
	}
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p := newTestPool(t, 1)
	ctx := context.Background()

	s, _ := p.Acquire(ctx)
	defer p.Release(s)

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestPool_ClosedAcquireFails(t *testing.T) {
	p := newTestPool(t, 1)
	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Sessions != 2 {
		t.Fatalf("sessions = %d, want 2", c.Sessions)
	}
	if c.MinContentLength != 120 {
		t.Fatalf("min content = %d, want 120", c.MinContentLength)
	}
	if c.DefaultTimeout != 20*time.Second {
		t.Fatalf("timeout = %v, want 20s", c.DefaultTimeout)
	}
	if c.Browser.MemoryLimit != 1<<30 {
		t.Fatalf("memory limit = %d, want 1GB", c.Browser.MemoryLimit)
	}
}
