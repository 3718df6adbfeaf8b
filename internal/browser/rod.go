package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/technews/pagevisit/internal/identity"
)

// Config holds Chromium launch settings.
type Config struct {
	Bin       string   // browser binary; empty lets the launcher find or download one
	Headless  bool     // run without a window
	NoSandbox bool     // required in most containers
	RemoteURL string   // DevTools endpoint (ws, wss, http or https) of an already running browser
	Flags     []string // extra command line flags, "name" or "name=value"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Headless: true}
}

// ErrDriverClosed is returned by Launch after Close.
var ErrDriverClosed = errors.New("browser driver closed")

// RodDriver launches Chromium through go-rod.
//
// Without RemoteURL every session is a dedicated browser process with a
// throwaway profile. With RemoteURL the driver holds a single DevTools
// connection, opened on first use, and sessions rely on incognito contexts
// for isolation. Close releases that connection.
type RodDriver struct {
	cfg  Config
	dial func(ctx context.Context, wsURL string) (transport, error)

	mu     sync.Mutex
	remote *remoteBrowser
	closed bool
}

// transport is the DevTools websocket underneath a cdp client.
type transport interface {
	cdp.WebSocketable
	Close() error
}

type remoteBrowser struct {
	browser *rod.Browser
	conn    transport
	cancel  context.CancelFunc
}

// NewRodDriver creates a driver for cfg.
func NewRodDriver(cfg Config) *RodDriver {
	return &RodDriver{cfg: cfg, dial: dialWebSocket}
}

func dialWebSocket(ctx context.Context, wsURL string) (transport, error) {
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, wsURL, nil); err != nil {
		return nil, err
	}
	return ws, nil
}

// Launch starts (or attaches to) a browser for a single task.
func (d *RodDriver) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.cfg.RemoteURL != "" {
		b, err := d.connectRemote(ctx)
		if err != nil {
			return nil, err
		}
		return &rodSession{browser: b}, nil
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDriverClosed
	}

	l := d.newLauncher(ctx)
	u, err := l.Launch()
	if err != nil {
		releaseLauncher(l)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	// Cleanup must still work after the task context is cancelled, so the
	// session keeps its own context and only navigation uses the caller's.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := rod.New().ControlURL(u).Context(base)
	if err := b.Connect(); err != nil {
		cancel()
		releaseLauncher(l)
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	return &rodSession{browser: b, launcher: l, cancel: cancel}, nil
}

// connectRemote returns the shared remote browser, dialing it on first use.
// A failed attempt is not cached, so the next Launch retries.
func (d *RodDriver) connectRemote(ctx context.Context) (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDriverClosed
	}
	if d.remote != nil {
		return d.remote.browser, nil
	}

	wsURL, err := resolveControlURL(d.cfg.RemoteURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", d.cfg.RemoteURL, err)
	}
	conn, err := d.dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	// The connection outlives the task that opened it; only the handshake
	// is bound to ctx.
	base, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	b := rod.New().ControlURL("").Client(cdp.New().Start(conn)).Context(base)
	err = b.Connect()
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("connect to chrome: %w", ctxErr)
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	d.remote = &remoteBrowser{browser: b, conn: conn, cancel: cancel}
	return b, nil
}

// Close drops the shared remote connection, if any. The remote browser
// itself keeps running. Launch fails with ErrDriverClosed afterwards.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.remote == nil {
		return nil
	}
	r := d.remote
	d.remote = nil
	r.cancel()
	return r.conn.Close()
}

// resolveControlURL turns an http(s) DevTools endpoint into the browser's
// websocket URL. ws(s) URLs are returned unchanged.
func resolveControlURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
		return raw, nil
	case "http", "https":
		return launcher.ResolveURL(raw)
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (d *RodDriver) newLauncher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(d.cfg.Headless)
	if d.cfg.Bin != "" {
		l = l.Bin(d.cfg.Bin)
	}
	if d.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}
	for _, raw := range d.cfg.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// releaseLauncher kills the browser process and removes its profile.
func releaseLauncher(l *launcher.Launcher) {
	l.Kill()
	if l.PID() == 0 {
		// Never started: Cleanup would wait forever for the process to exit.
		_ = os.RemoveAll(l.Get(flags.UserDataDir))
		return
	}
	l.Cleanup()
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher // nil when attached to a remote browser
	cancel   context.CancelFunc
}

func (s *rodSession) NewContext(ctx context.Context, id identity.Identity) (Context, error) {
	incognito, err := s.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	return &rodContext{browser: incognito.Context(s.browser.GetContext()), id: id}, nil
}

// Close shuts down a launched browser. Remote sessions own nothing beyond
// their incognito contexts, which are closed separately.
func (s *rodSession) Close() error {
	if s.launcher == nil {
		return nil
	}
	err := s.browser.Close()
	releaseLauncher(s.launcher)
	s.cancel()
	return err
}

type rodContext struct {
	browser *rod.Browser
	id      identity.Identity
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	page = page.Context(c.browser.GetContext())

	if c.id.UserAgent != "" {
		if err := page.Context(ctx).SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.id.UserAgent}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	if c.id.Referrer != "" {
		if _, err := page.Context(ctx).SetExtraHeaders([]string{"Referer", c.id.Referrer}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set referer: %w", err)
		}
	}
	return &rodPage{page: page}, nil
}

// Close disposes the incognito context together with its storage.
func (c *rodContext) Close() error {
	return c.browser.Close()
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	navCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	page := p.page.Context(navCtx)
	err := page.Navigate(url)
	if err == nil {
		err = page.WaitLoad()
	}
	if err == nil {
		return nil
	}
	// rod surfaces an expired deadline in several shapes; normalize it.
	if ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("navigate %s: %w", url, context.DeadlineExceeded)
	}
	return fmt.Errorf("navigate %s: %w", url, err)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
