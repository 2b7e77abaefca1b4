package browser

import (
	"context"
	"testing"
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/pkg/apperr"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type waitPage struct {
	playwright.Page

	url             string
	loadStateErr    error
	loadStateCalled bool
}

func (p *waitPage) URL() string {
	return p.url
}

func (p *waitPage) WaitForLoadState(options ...playwright.PageWaitForLoadStateOptions) error {
	p.loadStateCalled = true

	return p.loadStateErr
}

func TestAwaitNavigation_AlreadyNavigatedShortCircuits(t *testing.T) {
	page := &waitPage{url: "https://example.com/next"}
	w := newWaiter(page, zap.NewNop())

	cond := &entity.WaitCondition{Kind: entity.WaitKindNavigation, Timeout: time.Second}

	_, url, err := w.await(context.Background(), cond, "https://example.com/")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/next", url)
	assert.False(t, page.loadStateCalled, "URL already moved, the load event must not be awaited")
}

func TestAwaitNavigation_ReReadsURLAfterLoadEvent(t *testing.T) {
	page := &waitPage{url: "https://example.com/"}
	w := newWaiter(page, zap.NewNop())

	cond := &entity.WaitCondition{Kind: entity.WaitKindNavigation, Timeout: 2 * time.Second}

	_, url, err := w.await(context.Background(), cond, "https://example.com/")
	require.NoError(t, err)

	assert.True(t, page.loadStateCalled)
	assert.Equal(t, "https://example.com/", url, "URL is re-read regardless of the load event outcome")
}

func TestAwaitDelay_BlocksForDuration(t *testing.T) {
	w := newWaiter(&waitPage{}, zap.NewNop())

	cond := &entity.WaitCondition{Kind: entity.WaitKindDelay, Duration: 30 * time.Millisecond}

	elapsed, _, err := w.await(context.Background(), cond, "")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestAwaitDelay_CancellableViaContext(t *testing.T) {
	w := newWaiter(&waitPage{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cond := &entity.WaitCondition{Kind: entity.WaitKindDelay, Duration: 5 * time.Second}

	elapsed, _, err := w.await(ctx, cond, "")
	require.NoError(t, err, "waits never fail the plan")

	assert.Less(t, elapsed, time.Second)
}

func TestAwaitNilCondition(t *testing.T) {
	w := newWaiter(&waitPage{}, zap.NewNop())

	elapsed, url, err := w.await(context.Background(), nil, "https://example.com/")
	require.NoError(t, err)

	assert.Zero(t, elapsed)
	assert.Equal(t, "https://example.com/", url)
}

func TestValidateWait(t *testing.T) {
	tests := []struct {
		name    string
		cond    *entity.WaitCondition
		wantErr bool
	}{
		{"nil condition", nil, false},
		{"delay without duration", &entity.WaitCondition{Kind: entity.WaitKindDelay}, true},
		{"delay ok", &entity.WaitCondition{Kind: entity.WaitKindDelay, Duration: time.Second}, false},
		{"element without selector", &entity.WaitCondition{Kind: entity.WaitKindElement}, true},
		{"element ok", &entity.WaitCondition{Kind: entity.WaitKindElement, Selector: "#done"}, false},
		{"navigation ok", &entity.WaitCondition{Kind: entity.WaitKindNavigation}, false},
		{"network idle ok", &entity.WaitCondition{Kind: entity.WaitKindNetworkIdle}, false},
		{"unknown kind", &entity.WaitCondition{Kind: entity.WaitKind("teleport")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateWait(tt.cond)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.CodeActionParameter, apperr.Code(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWaitTimeout_DefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, defaultWaitTimeout, waitTimeout(&entity.WaitCondition{Kind: entity.WaitKindNavigation}))
	assert.Equal(t, 3*time.Second, waitTimeout(&entity.WaitCondition{Kind: entity.WaitKindNavigation, Timeout: 3 * time.Second}))
}
