package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nandu-collab/marketpulse-bot/internal/config"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

type botAPI struct {
	mu        sync.Mutex
	forms     []map[string]string
	responses []func(w http.ResponseWriter)
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/bottoken-123/sendMessage" || r.Method != http.MethodPost {
		http.Error(w, `{"ok":false,"description":"Not Found"}`, http.StatusNotFound)
		return
	}
	_ = r.ParseForm()

	b.mu.Lock()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	b.forms = append(b.forms, form)
	idx := len(b.forms) - 1
	var respond func(http.ResponseWriter)
	if idx < len(b.responses) {
		respond = b.responses[idx]
	}
	b.mu.Unlock()

	if respond == nil {
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		return
	}
	respond(w)
}

func (b *botAPI) calls() []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]string(nil), b.forms...)
}

func tooManyRequests(retryAfter int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  429,
			"description": "Too Many Requests",
			"parameters":  map[string]int{"retry_after": retryAfter},
		})
	}
}

func badRequest(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`))
}

func newTestNotifier(t *testing.T, api *botAPI) (*Notifier, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	n := NewNotifier(config.TelegramConfig{
		BotToken:       "token-123",
		ChatID:         "@marketpulse",
		APIBase:        srv.URL,
		TimeoutSeconds: 5,
	})
	n.limiter = rate.NewLimiter(rate.Inf, 1)

	var slept []time.Duration
	n.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return n, &slept
}

func TestSendPostsHTMLWithButton(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	n, slept := newTestNotifier(t, api)

	require.NoError(t, n.Send(context.Background(), "<b>Hi</b>", "https://example.com/a"))

	calls := api.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "@marketpulse", calls[0]["chat_id"])
	assert.Equal(t, "<b>Hi</b>", calls[0]["text"])
	assert.Equal(t, "HTML", calls[0]["parse_mode"])
	assert.Equal(t, "true", calls[0]["disable_web_page_preview"])
	assert.JSONEq(t, `{"inline_keyboard":[[{"text":"Read more","url":"https://example.com/a"}]]}`, calls[0]["reply_markup"])
	assert.Empty(t, *slept)
}

func TestSendWithoutLinkHasNoKeyboard(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	n, _ := newTestNotifier(t, api)

	require.NoError(t, n.Send(context.Background(), "digest", ""))
	_, ok := api.calls()[0]["reply_markup"]
	assert.False(t, ok)
}

func TestSendRetriesOnceAfterRateLimit(t *testing.T) {
	t.Parallel()

	api := &botAPI{responses: []func(http.ResponseWriter){tooManyRequests(7)}}
	n, slept := newTestNotifier(t, api)

	require.NoError(t, n.Send(context.Background(), "text", ""))
	assert.Len(t, api.calls(), 2)
	assert.Equal(t, []time.Duration{8 * time.Second}, *slept)
}

func TestSendGivesUpAfterSecondRateLimit(t *testing.T) {
	t.Parallel()

	api := &botAPI{responses: []func(http.ResponseWriter){tooManyRequests(2), tooManyRequests(2)}}
	n, slept := newTestNotifier(t, api)

	err := n.Send(context.Background(), "text", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrRateLimited))
	assert.False(t, errors.Is(err, ports.ErrPermanent))
	assert.Len(t, api.calls(), 2)
	assert.Len(t, *slept, 1)

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusTooManyRequests, derr.StatusCode)
}

func TestSendPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	api := &botAPI{responses: []func(http.ResponseWriter){badRequest}}
	n, slept := newTestNotifier(t, api)

	err := n.Send(context.Background(), "<b>broken", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrPermanent))
	assert.Contains(t, err.Error(), "can't parse entities")
	assert.Len(t, api.calls(), 1)
	assert.Empty(t, *slept)
}

func TestSendRateLimitWithoutRetryAfter(t *testing.T) {
	t.Parallel()

	api := &botAPI{responses: []func(http.ResponseWriter){func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
	}}}
	n, slept := newTestNotifier(t, api)

	require.NoError(t, n.Send(context.Background(), "text", ""))
	assert.Equal(t, []time.Duration{defaultRetryAfter + retryMargin}, *slept)
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	api := &botAPI{responses: []func(http.ResponseWriter){tooManyRequests(30)}}
	n, _ := newTestNotifier(t, api)
	n.sleep = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Send(ctx, "text", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrRateLimited))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, api.calls(), 1)
}

func TestSendMisconfigured(t *testing.T) {
	t.Parallel()

	n := NewNotifier(config.TelegramConfig{})
	err := n.Send(context.Background(), "text", "")
	assert.True(t, errors.Is(err, ports.ErrPermanent))
}
