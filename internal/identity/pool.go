// Package identity supplies randomized client identities for page visits.
package identity

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/technews/pagevisit/internal/runner"
)

// ErrEmptyPool is matched by the error New returns for an empty list.
var ErrEmptyPool = errors.New("identity pool is empty")

// Identity is the client signature used by a single navigation.
type Identity struct {
	UserAgent string
	Referrer  string // empty means no Referer header
}

// Pool holds immutable user agent and referrer lists.
type Pool struct {
	userAgents []string
	referrers  []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option customizes a Pool.
type Option func(*Pool)

// WithSeed makes selection reproducible. A zero seed keeps the time-based default.
func WithSeed(seed int64) Option {
	return func(p *Pool) {
		if seed != 0 {
			p.rnd = rand.New(rand.NewSource(seed))
		}
	}
}

// New copies both lists, dropping blank entries. Either list ending up empty
// is a configuration error.
func New(userAgents, referrers []string, opts ...Option) (*Pool, error) {
	p := &Pool{
		userAgents: compact(userAgents),
		referrers:  compact(referrers),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	var issues []string
	if len(p.userAgents) == 0 {
		issues = append(issues, "user agent pool must not be empty")
	}
	if len(p.referrers) == 0 {
		issues = append(issues, "referrer pool must not be empty")
	}
	if len(issues) > 0 {
		return nil, &runner.ConfigurationError{Issues: issues, Err: ErrEmptyPool}
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PickIdentity returns a user agent chosen uniformly with replacement.
func (p *Pool) PickIdentity() string {
	return p.pick(p.userAgents)
}

// PickReferrer returns a referrer chosen uniformly with replacement.
func (p *Pool) PickReferrer() string {
	return p.pick(p.referrers)
}

// Pick draws a fresh Identity for one task.
func (p *Pool) Pick() Identity {
	return Identity{UserAgent: p.PickIdentity(), Referrer: p.PickReferrer()}
}

// UserAgents returns a copy of the configured user agents.
func (p *Pool) UserAgents() []string { return append([]string(nil), p.userAgents...) }

// Referrers returns a copy of the configured referrers.
func (p *Pool) Referrers() []string { return append([]string(nil), p.referrers...) }

func (p *Pool) pick(values []string) string {
	p.mu.Lock()
	idx := p.rnd.Intn(len(values))
	p.mu.Unlock()
	return values[idx]
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
