package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/pkg/apperr"
	"chrome-agent/pkg/logg"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	resolverName = "SelectorResolver"

	// fallbackScore marks elements found by the generic heuristics rather
	// than a planner candidate.
	fallbackScore = 0.1
)

type cacheKey struct {
	kind  entity.SelectorKind
	value string
}

type cacheEntry struct {
	handle   playwright.ElementHandle
	storedAt time.Time
}

// selectorCache holds resolved element handles for one page. Entries expire
// after the TTL via lazy purge on access and the periodic sweep; both paths
// use the same ttl field.
type selectorCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry
}

func newSelectorCache(ttl time.Duration) *selectorCache {
	return &selectorCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (c *selectorCache) get(key cacheKey) (playwright.ElementHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)

		return nil, false
	}

	return entry.handle, true
}

func (c *selectorCache) put(key cacheKey, handle playwright.ElementHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{handle: handle, storedAt: c.now()}
}

func (c *selectorCache) evict(key cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

func (c *selectorCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for key, entry := range c.entries {
		if c.now().Sub(entry.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

func (c *selectorCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// resolved pairs a live element with the candidate that produced it.
type resolved struct {
	handle    playwright.ElementHandle
	candidate entity.SelectorCandidate
	fromCache bool
	fallback  bool
}

// resolver turns scored selector candidates into a live element on one page.
type resolver struct {
	page   playwright.Page
	cache  *selectorCache
	logger *zap.Logger
}

func newResolver(page playwright.Page, cache *selectorCache, logger *zap.Logger) *resolver {
	return &resolver{
		page:   page,
		cache:  cache,
		logger: logger.With(zap.String(logg.Layer, resolverName)),
	}
}

// sortCandidates orders by score descending; ties keep planner order.
func sortCandidates(candidates []entity.SelectorCandidate) []entity.SelectorCandidate {
	sorted := make([]entity.SelectorCandidate, len(candidates))
	copy(sorted, candidates)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	return sorted
}

// candidateQuery maps a selector kind to the page query that locates it.
// Free-text search is handled separately; it needs a DOM walk, not a query.
func candidateQuery(candidate entity.SelectorCandidate) string {
	switch candidate.Kind {
	case entity.SelectorKindCSS:
		return candidate.Value
	case entity.SelectorKindXPath:
		return "xpath=" + candidate.Value
	case entity.SelectorKindID:
		return fmt.Sprintf(`[id=%q]`, candidate.Value)
	case entity.SelectorKindClass:
		return fmt.Sprintf(`[class~=%q]`, candidate.Value)
	case entity.SelectorKindName:
		return fmt.Sprintf(`[name=%q]`, candidate.Value)
	case entity.SelectorKindTestID:
		return fmt.Sprintf(`[data-testid=%q], [data-test-id=%q]`, candidate.Value, candidate.Value)
	case entity.SelectorKindAriaLabel:
		return fmt.Sprintf(`[aria-label=%q]`, candidate.Value)
	default:
		return ""
	}
}

// fallbackQueries is the ordered list of generic heuristics tried when every
// planner candidate fails. First visible match wins.
func fallbackQueries() []string {
	return []string{
		`input[type="text"]:not([hidden])`,
		`input[type="search"]:not([hidden])`,
		`input[type="email"]:not([hidden])`,
		`textarea:not([hidden])`,
		`button:not([hidden])`,
		`a[href]:not([hidden])`,
		`[role="button"]:not([hidden])`,
		`input[type="submit"]:not([hidden])`,
		`select:not([hidden])`,
		`form input:not([hidden])`,
	}
}

func (r *resolver) resolve(ctx context.Context, candidates []entity.SelectorCandidate) (*resolved, error) {
	const op = "resolve"
	logger := r.logger.With(zap.String(logg.Operation, op))

	for _, candidate := range sortCandidates(candidates) {
		key := cacheKey{kind: candidate.Kind, value: candidate.Value}

		if handle, ok := r.cache.get(key); ok {
			if r.isAttached(handle) {
				return &resolved{handle: handle, candidate: candidate, fromCache: true}, nil
			}

			r.cache.evict(key)
		}

		handle, err := r.resolveLive(candidate)
		if err != nil {
			logger.Debug("Candidate query failed",
				zap.String(logg.Selector, candidate.Value),
				zap.Error(err))

			continue
		}

		if handle == nil {
			continue
		}

		r.cache.put(key, handle)

		return &resolved{handle: handle, candidate: candidate}, nil
	}

	if match, ok := r.resolveFallback(); ok {
		logger.Info("Resolved via generic fallback", zap.String(logg.Selector, match.candidate.Value))

		return match, nil
	}

	attempted := ""
	if len(candidates) > 0 {
		attempted = fmt.Sprintf("%s:%s", candidates[0].Kind, candidates[0].Value)
	}

	return nil, apperr.ElementNotFound(op, fmt.Errorf("no candidate matched out of %d", len(candidates)), attempted)
}

// isAttached is the cheap liveness probe for cached handles.
func (r *resolver) isAttached(handle playwright.ElementHandle) bool {
	result, err := handle.Evaluate(`el => el.isConnected`)
	if err != nil {
		return false
	}

	attached, ok := result.(bool)

	return ok && attached
}

func (r *resolver) resolveLive(candidate entity.SelectorCandidate) (playwright.ElementHandle, error) {
	if candidate.Kind == entity.SelectorKindText {
		return r.resolveByText(candidate.Value)
	}

	query := candidateQuery(candidate)
	if query == "" {
		return nil, fmt.Errorf("unsupported selector kind: %s", candidate.Kind)
	}

	return r.page.QuerySelector(query)
}

func (r *resolver) resolveByText(target string) (playwright.ElementHandle, error) {
	handle, err := r.page.EvaluateHandle(textSearchScript(), target)
	if err != nil {
		return nil, err
	}

	if handle == nil {
		return nil, nil
	}

	return handle.AsElement(), nil
}

func (r *resolver) resolveFallback() (*resolved, bool) {
	for _, query := range fallbackQueries() {
		handles, err := r.page.QuerySelectorAll(query)
		if err != nil {
			continue
		}

		for _, handle := range handles {
			if !r.isVisible(handle) {
				continue
			}

			return &resolved{
				handle: handle,
				candidate: entity.SelectorCandidate{
					Kind:        entity.SelectorKindCSS,
					Value:       query,
					Score:       fallbackScore,
					Description: "generic fallback",
				},
				fallback: true,
			}, true
		}
	}

	return nil, false
}

func (r *resolver) isVisible(handle playwright.ElementHandle) bool {
	result, err := handle.Evaluate(visibilityScript())
	if err != nil {
		return false
	}

	visible, ok := result.(bool)

	return ok && visible
}

// runSweeper purges stale cache entries until stop is closed.
func (r *resolver) runSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := r.cache.sweep(); removed > 0 {
				r.logger.Debug("Swept stale selector cache entries", zap.Int("removed", removed))
			}
		}
	}
}
