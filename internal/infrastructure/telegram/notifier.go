package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nandu-collab/marketpulse-bot/internal/config"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// retryMargin is added to the server supplied retry_after.
const retryMargin = time.Second

// defaultRetryAfter applies when a 429 carries no usable retry_after.
const defaultRetryAfter = 3 * time.Second

// Kind classifies a failed delivery.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// DeliveryError is returned by Send for every failed delivery. It matches
// ports.ErrRateLimited or ports.ErrPermanent under errors.Is.
type DeliveryError struct {
	Kind        Kind
	StatusCode  int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("telegram %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ports.ErrRateLimited:
		return e.Kind == KindTransient
	case ports.ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Notifier sends messages to a Telegram chat via the Bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier builds a notifier from configuration. Outbound messages are
// paced to MessagesPerMinute.
func NewNotifier(cfg config.TelegramConfig) *Notifier {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perMinute := cfg.MessagesPerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}

	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		apiBase:  apiBase,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		sleep:    sleepContext,
	}
}

// Send posts text (Telegram HTML) with an optional "Read more" button for
// link. A rate-limited send waits retry_after plus a margin and is retried
// exactly once; any other failure is returned immediately.
func (n *Notifier) Send(ctx context.Context, text, link string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return &DeliveryError{Kind: KindPermanent, Err: errors.New("notifier misconfigured")}
	}

	form, err := n.buildForm(text, link)
	if err != nil {
		return &DeliveryError{Kind: KindPermanent, Err: err}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Kind: KindPermanent, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	err = n.post(ctx, form)
	var derr *DeliveryError
	if !errors.As(err, &derr) || derr.Kind != KindTransient {
		return err
	}

	wait := derr.RetryAfter
	if wait <= 0 {
		wait = defaultRetryAfter
	}
	if err := n.sleep(ctx, wait+retryMargin); err != nil {
		return &DeliveryError{Kind: KindTransient, StatusCode: derr.StatusCode, Err: err}
	}
	return n.post(ctx, form)
}

func (n *Notifier) buildForm(text, link string) (url.Values, error) {
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	if link = strings.TrimSpace(link); link != "" {
		markup, err := json.Marshal(replyMarkup{
			InlineKeyboard: [][]inlineButton{{{Text: "Read more", URL: link}}},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal reply markup: %w", err)
		}
		form.Set("reply_markup", string(markup))
	}
	return form, nil
}

func (n *Notifier) post(ctx context.Context, form url.Values) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &DeliveryError{Kind: KindPermanent, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Kind: KindPermanent, Err: fmt.Errorf("do request: %w", redactToken(err, n.botToken))}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var body apiResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	derr := &DeliveryError{
		Kind:        KindPermanent,
		StatusCode:  resp.StatusCode,
		Description: body.Description,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		derr.Kind = KindTransient
		if body.Parameters != nil {
			derr.RetryAfter = time.Duration(body.Parameters.RetryAfter) * time.Second
		}
	}
	return derr
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// redactToken keeps the bot token out of logged transport errors, which
// embed the request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
