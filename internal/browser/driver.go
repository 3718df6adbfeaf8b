// Package browser abstracts the headless browser used for page visits.
//
// The navigation task only sees the [Driver] capability; [RodDriver] backs it
// with Chromium over the DevTools protocol and browsertest.Driver with an
// in-memory fake.
package browser

import (
	"context"
	"time"

	"github.com/technews/pagevisit/internal/identity"
)

// Driver launches isolated browsing sessions.
type Driver interface {
	Launch(ctx context.Context) (Session, error)
	// Close releases anything shared between sessions. Sessions must be
	// closed first.
	Close() error
}

// Session is one browser connection owned by a single task.
type Session interface {
	// NewContext opens a sandboxed context whose pages present id.
	NewContext(ctx context.Context, id identity.Identity) (Context, error)
	Close() error
}

// Context is an isolated browser context: no cookies, cache or storage are
// shared with other contexts.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	// Goto navigates to url and waits for the load event, giving up after timeout.
	Goto(ctx context.Context, url string, timeout time.Duration) error
	Close() error
}
