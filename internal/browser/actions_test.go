package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chrome-agent/internal/entity"
	"chrome-agent/pkg/apperr"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// typingElement is an editable element fake: it tracks its value and lets
// tests fail individual typing strategies.
type typingElement struct {
	playwright.ElementHandle

	value    string
	typeErr  error
	focusErr error
}

func (e *typingElement) Evaluate(expression string, options ...interface{}) (interface{}, error) {
	switch {
	case strings.Contains(expression, "isConnected"):
		return true, nil
	case len(options) > 0:
		text, _ := options[0].(string)
		e.value = text

		return nil, nil
	case strings.Contains(expression, "dispatchEvent"):
		e.value = ""

		return nil, nil
	case strings.Contains(expression, "el.value !== undefined"):
		return e.value, nil
	}

	return nil, nil
}

func (e *typingElement) ScrollIntoViewIfNeeded(options ...playwright.ElementHandleScrollIntoViewIfNeededOptions) error {
	return nil
}

func (e *typingElement) Focus() error {
	return e.focusErr
}

func (e *typingElement) Click(options ...playwright.ElementHandleClickOptions) error {
	return nil
}

func (e *typingElement) IsVisible() (bool, error) {
	return true, nil
}

func (e *typingElement) IsEnabled() (bool, error) {
	return true, nil
}

func (e *typingElement) Type(value string, options ...playwright.ElementHandleTypeOptions) error {
	if e.typeErr != nil {
		return e.typeErr
	}

	e.value += value

	return nil
}

type fakeKeyboard struct {
	playwright.Keyboard

	target  *typingElement
	typeErr error
	pressed []string
}

func (k *fakeKeyboard) Press(key string, options ...playwright.KeyboardPressOptions) error {
	k.pressed = append(k.pressed, key)

	if key == "Backspace" && k.target != nil {
		k.target.value = ""
	}

	return nil
}

func (k *fakeKeyboard) Type(text string, options ...playwright.KeyboardTypeOptions) error {
	if k.typeErr != nil {
		return k.typeErr
	}

	if k.target != nil {
		k.target.value += text
	}

	return nil
}

type typingPage struct {
	playwright.Page

	keyboard *fakeKeyboard
	handles  map[string]playwright.ElementHandle
	url      string
}

func (p *typingPage) Keyboard() playwright.Keyboard {
	return p.keyboard
}

func (p *typingPage) QuerySelector(selector string, options ...playwright.PageQuerySelectorOptions) (playwright.ElementHandle, error) {
	if handle, ok := p.handles[selector]; ok {
		return handle, nil
	}

	return nil, nil
}

func (p *typingPage) QuerySelectorAll(selector string) ([]playwright.ElementHandle, error) {
	return nil, nil
}

func (p *typingPage) URL() string {
	return p.url
}

func newTestContext(page playwright.Page) *ExecutionContext {
	logger := zap.NewNop()

	return &ExecutionContext{
		planID:    uuid.New(),
		logger:    logger,
		tracer:    otel.Tracer("test"),
		page:      page,
		resolver:  newResolver(page, newSelectorCache(5*time.Second), logger),
		waiter:    newWaiter(page, logger),
		viewport:  entity.Viewport{Width: 1280, Height: 720},
		stopSweep: make(chan struct{}),
	}
}

func inputCandidates() []entity.SelectorCandidate {
	return []entity.SelectorCandidate{{Kind: entity.SelectorKindCSS, Value: "#field", Score: 1}}
}

func TestType_SimulatedTypingSucceeds(t *testing.T) {
	element := &typingElement{}
	page := &typingPage{
		keyboard: &fakeKeyboard{target: element},
		handles:  map[string]playwright.ElementHandle{"#field": element},
	}

	ec := newTestContext(page)

	data, err := ec.Type(context.Background(), inputCandidates(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, true, data["typed"])
	assert.Equal(t, true, data["verified"])
	assert.Equal(t, "hello world", element.value)
}

func TestType_FallsBackToDirectAssignment(t *testing.T) {
	element := &typingElement{typeErr: errors.New("typing blocked")}
	page := &typingPage{
		keyboard: &fakeKeyboard{target: element, typeErr: errors.New("key events blocked")},
		handles:  map[string]playwright.ElementHandle{"#field": element},
	}

	ec := newTestContext(page)

	data, err := ec.Type(context.Background(), inputCandidates(), "fallback text")
	require.NoError(t, err)

	assert.Equal(t, true, data["typed"])
	assert.Equal(t, true, data["verified"], "direct assignment still verifies; the strategy used is not contractual")
	assert.Equal(t, "fallback text", element.value)
}

func TestType_FocusFallsBackToClick(t *testing.T) {
	element := &typingElement{focusErr: errors.New("focus refused")}
	page := &typingPage{
		keyboard: &fakeKeyboard{target: element},
		handles:  map[string]playwright.ElementHandle{"#field": element},
	}

	ec := newTestContext(page)

	_, err := ec.Type(context.Background(), inputCandidates(), "still typed")
	require.NoError(t, err)

	assert.Equal(t, "still typed", element.value)
}

func TestType_MissingParameters(t *testing.T) {
	ec := newTestContext(&typingPage{keyboard: &fakeKeyboard{}})

	_, err := ec.Type(context.Background(), nil, "text")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeActionParameter, apperr.Code(err))

	_, err = ec.Type(context.Background(), inputCandidates(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeActionParameter, apperr.Code(err))
}

func TestNavigate_EmptyURLFailsFast(t *testing.T) {
	ec := newTestContext(&typingPage{keyboard: &fakeKeyboard{}})

	_, err := ec.Navigate(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeActionParameter, apperr.Code(err))
}

func TestClick_NoCandidatesFailsFast(t *testing.T) {
	ec := newTestContext(&typingPage{keyboard: &fakeKeyboard{}})

	_, err := ec.Click(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeActionParameter, apperr.Code(err))
}

func TestClick_UnresolvableCandidates(t *testing.T) {
	page := &typingPage{keyboard: &fakeKeyboard{}, handles: map[string]playwright.ElementHandle{}}
	ec := newTestContext(page)

	_, err := ec.Click(context.Background(), []entity.SelectorCandidate{
		{Kind: entity.SelectorKindCSS, Value: "#ghost", Score: 1},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeElementNotFound, apperr.Code(err))
}

func TestPress_MissingKeyFailsFast(t *testing.T) {
	ec := newTestContext(&typingPage{keyboard: &fakeKeyboard{}})

	_, err := ec.Press(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeActionParameter, apperr.Code(err))
}

func TestClosedContextFailsFast(t *testing.T) {
	ec := newTestContext(&typingPage{keyboard: &fakeKeyboard{}})
	ec.closed = true
	close(ec.stopSweep)

	_, err := ec.Navigate(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBrowserNotReady, apperr.Code(err))

	_, err = ec.Screenshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBrowserNotReady, apperr.Code(err))
}

func TestParseExtractedElement_RoundTrip(t *testing.T) {
	raw := map[string]any{
		"text": "  Sign in  ",
		"html": "<span>Sign in</span>",
		"attributes": map[string]any{
			"href":  "/login",
			"class": "btn btn-primary",
			"id":    "login-link",
		},
		"tag_name": "a",
		"class":    "btn btn-primary",
		"id":       "login-link",
	}

	element := parseExtractedElement(raw)

	assert.Equal(t, "Sign in", element.Text, "text must come back trimmed")
	assert.Equal(t, "<span>Sign in</span>", element.HTML)
	assert.Equal(t, "a", element.TagName)
	assert.Equal(t, "login-link", element.ID)
	assert.Equal(t, map[string]string{
		"href":  "/login",
		"class": "btn btn-primary",
		"id":    "login-link",
	}, element.Attributes)
}

func TestParseExtractedElement_MalformedPayload(t *testing.T) {
	element := parseExtractedElement("not a map")

	assert.Empty(t, element.Text)
	assert.NotNil(t, element.Attributes)
}

func TestScrollScript(t *testing.T) {
	x, y := 0, 400

	assert.Equal(t, "window.scrollBy(0, 400)", scrollScript(&x, &y))
	assert.Equal(t, "window.scrollBy(0, 250)", scrollScript(nil, intPtr(250)))
	assert.Equal(t, "window.scrollTo(0, document.body.scrollHeight)", scrollScript(nil, nil))
}

func intPtr(v int) *int {
	return &v
}

func TestContextClose_Idempotent(t *testing.T) {
	closedCalls := 0

	ec := newTestContext(&typingPage{keyboard: &fakeKeyboard{}})
	ec.page = nil
	ec.onClose = func() { closedCalls++ }

	require.NoError(t, ec.Close(context.Background()))
	require.NoError(t, ec.Close(context.Background()))

	assert.Equal(t, 1, closedCalls)
}
