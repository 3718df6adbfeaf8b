// Package browsertest provides an in-memory browser driver for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technews/pagevisit/internal/browser"
	"github.com/technews/pagevisit/internal/identity"
)

// ErrLaunch is returned by Launch when FailLaunch is set.
var ErrLaunch = errors.New("browsertest: launch failed")

// Visit records one Goto call.
type Visit struct {
	URL      string
	Identity identity.Identity
	Err      error
}

// Driver is a fake browser.Driver that tracks every resource it hands out.
// The zero value succeeds instantly.
type Driver struct {
	Latency    time.Duration            // time each Goto takes
	Fail       map[string]error         // Goto errors keyed by URL
	Delay      map[string]time.Duration // per-URL latency overriding Latency
	FailLaunch bool
	FailPage   bool

	launched atomic.Int64
	sessions atomic.Int64
	contexts atomic.Int64
	pages    atomic.Int64
	closed   atomic.Int64

	mu     sync.Mutex
	visits []Visit
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) Launch(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.FailLaunch {
		return nil, ErrLaunch
	}
	d.launched.Add(1)
	d.sessions.Add(1)
	return &session{d: d}, nil
}

// Close records that the driver was released.
func (d *Driver) Close() error {
	d.closed.Add(1)
	return nil
}

// Closed returns how many times Close was called.
func (d *Driver) Closed() int64 { return d.closed.Load() }

// Launched returns how many sessions were ever created.
func (d *Driver) Launched() int64 { return d.launched.Load() }

// Open returns the number of sessions, contexts and pages not yet closed.
func (d *Driver) Open() (sessions, contexts, pages int64) {
	return d.sessions.Load(), d.contexts.Load(), d.pages.Load()
}

// OpenTotal is the sum of Open.
func (d *Driver) OpenTotal() int64 {
	s, c, p := d.Open()
	return s + c + p
}

// Visits returns a copy of every recorded navigation.
func (d *Driver) Visits() []Visit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Visit(nil), d.visits...)
}

func (d *Driver) record(v Visit) {
	d.mu.Lock()
	d.visits = append(d.visits, v)
	d.mu.Unlock()
}

type session struct {
	d      *Driver
	closed atomic.Bool
}

func (s *session) NewContext(ctx context.Context, id identity.Identity) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.d.contexts.Add(1)
	return &bctx{d: s.d, id: id}, nil
}

func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("browsertest: session closed twice")
	}
	s.d.sessions.Add(-1)
	return nil
}

type bctx struct {
	d      *Driver
	id     identity.Identity
	closed atomic.Bool
}

func (c *bctx) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.d.FailPage {
		return nil, errors.New("browsertest: target crashed")
	}
	c.d.pages.Add(1)
	return &page{d: c.d, id: c.id}, nil
}

func (c *bctx) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("browsertest: context closed twice")
	}
	c.d.contexts.Add(-1)
	return nil
}

type page struct {
	d      *Driver
	id     identity.Identity
	closed atomic.Bool
}

func (p *page) Goto(ctx context.Context, url string, timeout time.Duration) error {
	latency := p.d.Latency
	if l, ok := p.d.Delay[url]; ok {
		latency = l
	}

	navCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var err error
	timer := time.NewTimer(latency)
	select {
	case <-timer.C:
		err = p.d.Fail[url]
	case <-navCtx.Done():
		timer.Stop()
		err = navCtx.Err()
	}
	p.d.record(Visit{URL: url, Identity: p.id, Err: err})
	return err
}

func (p *page) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("browsertest: page closed twice")
	}
	p.d.pages.Add(-1)
	return nil
}
