package browser

import (
	"context"
	"strings"
	"testing"
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/pkg/apperr"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeElement overrides only the ElementHandle methods the resolver and the
// primitives touch; anything else panics through the embedded nil interface.
type fakeElement struct {
	playwright.ElementHandle

	id       string
	attached bool
	visible  bool
}

func (e *fakeElement) Evaluate(expression string, options ...interface{}) (interface{}, error) {
	switch {
	case strings.Contains(expression, "isConnected"):
		return e.attached, nil
	case strings.Contains(expression, "getBoundingClientRect"):
		return e.visible, nil
	}

	return nil, nil
}

type fakeQueryPage struct {
	playwright.Page

	handles    map[string]playwright.ElementHandle
	allHandles map[string][]playwright.ElementHandle
	queried    []string
}

func (p *fakeQueryPage) QuerySelector(selector string, options ...playwright.PageQuerySelectorOptions) (playwright.ElementHandle, error) {
	p.queried = append(p.queried, selector)

	if handle, ok := p.handles[selector]; ok {
		return handle, nil
	}

	return nil, nil
}

func (p *fakeQueryPage) QuerySelectorAll(selector string) ([]playwright.ElementHandle, error) {
	p.queried = append(p.queried, selector)

	return p.allHandles[selector], nil
}

func (p *fakeQueryPage) EvaluateHandle(expression string, arg ...interface{}) (playwright.JSHandle, error) {
	return nil, nil
}

func newTestResolver(page playwright.Page, ttl time.Duration) *resolver {
	return newResolver(page, newSelectorCache(ttl), zap.NewNop())
}

func TestSortCandidates_ScoreDescendingStableTies(t *testing.T) {
	candidates := []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "a", Score: 0.5},
		{Kind: entity.SelectorKindCSS, Value: "b", Score: 0.9},
		{Kind: entity.SelectorKindCSS, Value: "c", Score: 0.5},
		{Kind: entity.SelectorKindCSS, Value: "d", Score: 0.9},
	}

	sorted := sortCandidates(candidates)

	assert.Equal(t, []string{"b", "d", "a", "c"}, []string{sorted[0].Value, sorted[1].Value, sorted[2].Value, sorted[3].Value})
	assert.Equal(t, "a", candidates[0].Value, "input slice must stay untouched")
}

func TestCandidateQuery(t *testing.T) {
	tests := []struct {
		kind  entity.SelectorKind
		value string
		want  string
	}{
		{entity.SelectorKindCSS, "#login", "#login"},
		{entity.SelectorKindXPath, "//button", "xpath=//button"},
		{entity.SelectorKindID, "submit", `[id="submit"]`},
		{entity.SelectorKindClass, "btn-primary", `[class~="btn-primary"]`},
		{entity.SelectorKindName, "email", `[name="email"]`},
		{entity.SelectorKindAriaLabel, "Search", `[aria-label="Search"]`},
	}

	for _, tt := range tests {
		got := candidateQuery(entity.SelectorCandidate{Kind: tt.kind, Value: tt.value})
		assert.Equal(t, tt.want, got)
	}

	assert.Contains(t, candidateQuery(entity.SelectorCandidate{Kind: entity.SelectorKindTestID, Value: "cta"}), `[data-testid="cta"]`)
}

func TestSelectorCache_ExpiredEntryNeverReused(t *testing.T) {
	cache := newSelectorCache(5 * time.Second)

	now := time.Now()
	cache.now = func() time.Time { return now }

	key := cacheKey{kind: entity.SelectorKindCSS, value: "#login"}
	cache.put(key, &fakeElement{id: "one", attached: true})

	now = now.Add(4 * time.Second)
	_, ok := cache.get(key)
	assert.True(t, ok, "entry younger than TTL must be served")

	now = now.Add(2 * time.Second)
	_, ok = cache.get(key)
	assert.False(t, ok, "entry older than TTL must be purged on access")
	assert.Equal(t, 0, cache.size())
}

func TestSelectorCache_SweepRemovesOnlyStale(t *testing.T) {
	cache := newSelectorCache(5 * time.Second)

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.put(cacheKey{kind: entity.SelectorKindCSS, value: "old"}, &fakeElement{attached: true})

	now = now.Add(3 * time.Second)
	cache.put(cacheKey{kind: entity.SelectorKindCSS, value: "fresh"}, &fakeElement{attached: true})

	now = now.Add(3 * time.Second)
	removed := cache.sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.size())

	_, ok := cache.get(cacheKey{kind: entity.SelectorKindCSS, value: "fresh"})
	assert.True(t, ok)
}

func TestResolve_HighestScoringMatchWins(t *testing.T) {
	high := &fakeElement{id: "high", attached: true}
	low := &fakeElement{id: "low", attached: true}

	page := &fakeQueryPage{handles: map[string]playwright.ElementHandle{
		"#low":  low,
		"#high": high,
	}}

	r := newTestResolver(page, 5*time.Second)

	match, err := r.resolve(context.Background(), []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#low", Score: 0.4},
		{Kind: entity.SelectorKindCSS, Value: "#high", Score: 0.9},
	})
	require.NoError(t, err)

	assert.Equal(t, "#high", match.candidate.Value)
	assert.Same(t, high, match.handle)
	assert.False(t, match.fallback)
}

func TestResolve_CacheHitSkipsPageQuery(t *testing.T) {
	cached := &fakeElement{id: "cached", attached: true}
	page := &fakeQueryPage{handles: map[string]playwright.ElementHandle{}}

	r := newTestResolver(page, 5*time.Second)
	r.cache.put(cacheKey{kind: entity.SelectorKindCSS, value: "#login"}, cached)

	match, err := r.resolve(context.Background(), []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#login", Score: 1},
	})
	require.NoError(t, err)

	assert.True(t, match.fromCache)
	assert.Same(t, cached, match.handle)
	assert.Empty(t, page.queried, "cache hit must not touch the page")
}

func TestResolve_DetachedCacheEntryEvicted(t *testing.T) {
	stale := &fakeElement{id: "stale", attached: false}
	live := &fakeElement{id: "live", attached: true}

	page := &fakeQueryPage{handles: map[string]playwright.ElementHandle{
		"#login": live,
	}}

	r := newTestResolver(page, 5*time.Second)
	key := cacheKey{kind: entity.SelectorKindCSS, value: "#login"}
	r.cache.put(key, stale)

	match, err := r.resolve(context.Background(), []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#login", Score: 1},
	})
	require.NoError(t, err)

	assert.False(t, match.fromCache)
	assert.Same(t, live, match.handle)

	fresh, ok := r.cache.get(key)
	require.True(t, ok, "live resolution must refresh the cache")
	assert.Same(t, live, fresh)
}

func TestResolve_FallbackFindsVisibleElement(t *testing.T) {
	hidden := &fakeElement{id: "hidden", attached: true, visible: false}
	visible := &fakeElement{id: "visible", attached: true, visible: true}

	page := &fakeQueryPage{
		handles: map[string]playwright.ElementHandle{},
		allHandles: map[string][]playwright.ElementHandle{
			`input[type="text"]:not([hidden])`: {hidden, visible},
		},
	}

	r := newTestResolver(page, 5*time.Second)

	match, err := r.resolve(context.Background(), []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#missing", Score: 1},
	})
	require.NoError(t, err)

	assert.True(t, match.fallback)
	assert.Same(t, visible, match.handle)
	assert.Equal(t, fallbackScore, match.candidate.Score)
}

func TestResolve_NothingMatches(t *testing.T) {
	page := &fakeQueryPage{handles: map[string]playwright.ElementHandle{}}

	r := newTestResolver(page, 5*time.Second)

	_, err := r.resolve(context.Background(), []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#missing", Score: 1},
	})
	require.Error(t, err)

	assert.Equal(t, apperr.CodeElementNotFound, apperr.Code(err))
	assert.Contains(t, err.Error(), "no candidate matched")
}

func TestResolve_DeterministicAcrossRuns(t *testing.T) {
	a := &fakeElement{id: "a", attached: true}
	b := &fakeElement{id: "b", attached: true}

	page := &fakeQueryPage{handles: map[string]playwright.ElementHandle{
		"#a": a,
		"#b": b,
	}}

	candidates := []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#a", Score: 0.7},
		{Kind: entity.SelectorKindCSS, Value: "#b", Score: 0.3},
	}

	for i := 0; i < 5; i++ {
		r := newTestResolver(page, 5*time.Second)

		match, err := r.resolve(context.Background(), candidates)
		require.NoError(t, err)
		assert.Same(t, a, match.handle, "identical DOM and candidates must resolve identically")
	}
}
