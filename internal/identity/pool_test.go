package identity_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technews/pagevisit/internal/identity"
	"github.com/technews/pagevisit/internal/runner"
)

func TestPickOnlyReturnsConfiguredValues(t *testing.T) {
	agents := []string{"ua-1", "ua-2", "ua-3"}
	refs := []string{"https://r1", "https://r2"}
	pool, err := identity.New(agents, refs)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		assert.Contains(t, agents, pool.PickIdentity())
		assert.Contains(t, refs, pool.PickReferrer())
	}
}

func TestPickCoversPool(t *testing.T) {
	agents := []string{"a", "b", "c", "d"}
	pool, err := identity.New(agents, []string{"r"}, identity.WithSeed(42))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		seen[pool.PickIdentity()] = true
	}
	assert.Len(t, seen, len(agents), "uniform selection should reach every entry")
}

func TestSeedIsReproducible(t *testing.T) {
	agents := []string{"a", "b", "c", "d", "e"}
	p1, err := identity.New(agents, []string{"r1", "r2"}, identity.WithSeed(7))
	require.NoError(t, err)
	p2, err := identity.New(agents, []string{"r1", "r2"}, identity.WithSeed(7))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.Equal(t, p1.Pick(), p2.Pick())
	}
}

func TestNewRejectsEmptyPools(t *testing.T) {
	tests := []struct {
		name   string
		agents []string
		refs   []string
		issues int
	}{
		{"no agents", nil, []string{"r"}, 1},
		{"blank agents", []string{" ", ""}, []string{"r"}, 1},
		{"no referrers", []string{"ua"}, nil, 1},
		{"both empty", nil, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := identity.New(tt.agents, tt.refs)
			require.Error(t, err)
			assert.Nil(t, pool)
			assert.True(t, errors.Is(err, identity.ErrEmptyPool))

			var cfgErr *runner.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Len(t, cfgErr.Issues, tt.issues)
		})
	}
}

func TestPoolIsImmutable(t *testing.T) {
	agents := []string{"ua-1"}
	pool, err := identity.New(agents, []string{"r"})
	require.NoError(t, err)

	agents[0] = "mutated"
	pool.UserAgents()[0] = "mutated too"
	assert.Equal(t, "ua-1", pool.PickIdentity())
}

func TestConcurrentPicks(t *testing.T) {
	pool, err := identity.New(identity.DefaultUserAgents, identity.DefaultReferrers)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := pool.Pick()
				if id.UserAgent == "" || id.Referrer == "" {
					t.Errorf("empty identity %+v", id)
					return
				}
			}
		}()
	}
	wg.Wait()
}
