package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
	"github.com/nandu-collab/marketpulse-bot/internal/format"
	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/internal/ledger"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

var ist = mustLocation("Asia/Kolkata")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(day, hour, minute int) time.Time {
	// October 2025: the 13th is a Monday, the 18th a Saturday.
	return time.Date(2025, time.October, day, hour, minute, 0, 0, ist)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu      sync.Mutex
	groups  map[string][]domain.Item
	fetches int
}

func (f *fakeSource) Fetch(_ context.Context, group string) []domain.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]domain.Item(nil), f.groups[group]...)
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	fail  func(text string) error
	delay time.Duration
}

func (f *fakeNotifier) Send(_ context.Context, text, _ string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		if err := f.fail(text); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type countingRecorder struct {
	metrics.Nop
	mu         sync.Mutex
	deliveries map[string]int
	skips      map[string]int
}

func (r *countingRecorder) Delivery(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deliveries == nil {
		r.deliveries = map[string]int{}
	}
	r.deliveries[outcome]++
}

func (r *countingRecorder) JobSkipped(job, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skips == nil {
		r.skips = map[string]int{}
	}
	r.skips[job+"/"+reason]++
}

type rateLimitedErr struct{}

func (rateLimitedErr) Error() string        { return "429 too many requests" }
func (rateLimitedErr) Is(target error) bool { return target == ports.ErrRateLimited }

func newsItem(id string, published time.Time) domain.Item {
	return domain.Item{
		ID:          "site|" + id,
		Title:       "Headline " + id,
		Body:        "Body " + id + ".",
		Link:        "https://example.com/" + id,
		Category:    domain.CategoryMarket,
		PublishedAt: published,
	}
}

type harness struct {
	ledger   *ledger.Ledger
	notifier *fakeNotifier
	source   *fakeSource
	recorder *countingRecorder
	news     *Deliverer
	digest   *Deliverer
}

func newHarness() *harness {
	h := &harness{
		ledger:   ledger.New(100, nil, discard()),
		notifier: &fakeNotifier{},
		source:   &fakeSource{groups: map[string][]domain.Item{}},
		recorder: &countingRecorder{},
	}
	h.news = NewDeliverer(DelivererDeps{Ledger: h.ledger, Notifier: h.notifier, Renderer: format.New(200), Metrics: h.recorder, Logger: discard()})
	h.digest = NewDeliverer(DelivererDeps{Ledger: h.ledger, Notifier: h.notifier, Renderer: format.DigestFormatter{}, Metrics: h.recorder, Logger: discard()})
	return h
}

func (h *harness) newsJob(policy NewsPolicy) *RollingNewsJob {
	return NewRollingNewsJob(JobNews, GroupNews, h.source, h.news, policy, h.recorder, discard())
}

func TestDeliverDedupAcrossTicks(t *testing.T) {
	t.Parallel()

	h := newHarness()
	items := []domain.Item{newsItem("a", time.Time{}), newsItem("b", time.Time{})}

	assert.Equal(t, 2, h.news.Deliver(context.Background(), items, 0))
	assert.Equal(t, 0, h.news.Deliver(context.Background(), items, 0))
	assert.Len(t, h.notifier.sent(), 2)
	assert.Equal(t, 2, h.ledger.Len())
	assert.Equal(t, 2, h.recorder.deliveries[metrics.DeliveryDuplicate])
}

func TestDeliverFailedSendLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.notifier.fail = func(text string) error {
		if strings.Contains(text, "Headline a") {
			return fmt.Errorf("bad markup: %w", ports.ErrPermanent)
		}
		return nil
	}
	items := []domain.Item{newsItem("a", time.Time{}), newsItem("b", time.Time{})}

	assert.Equal(t, 1, h.news.Deliver(context.Background(), items, 0))
	assert.False(t, h.ledger.Contains("site|a"))
	assert.True(t, h.ledger.Contains("site|b"))
	assert.Equal(t, 1, h.recorder.deliveries[metrics.DeliveryPermanent])

	h.notifier.fail = nil
	assert.Equal(t, 1, h.news.Deliver(context.Background(), items, 0))
	assert.True(t, h.ledger.Contains("site|a"))
}

func TestDeliverRateLimitedItemIsReleased(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.notifier.fail = func(string) error { return rateLimitedErr{} }

	sent := h.news.Deliver(context.Background(), []domain.Item{newsItem("a", time.Time{})}, 0)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, h.ledger.Len())
	assert.True(t, h.ledger.Reserve("site|a"))
	assert.Equal(t, 1, h.recorder.deliveries[metrics.DeliveryTransient])
}

func TestDeliverRespectsLimitAndSkipsEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness()
	items := []domain.Item{
		{ID: "site|empty"},
		newsItem("a", time.Time{}),
		newsItem("b", time.Time{}),
		newsItem("c", time.Time{}),
	}

	assert.Equal(t, 2, h.news.Deliver(context.Background(), items, 2))
	assert.False(t, h.ledger.Contains("site|empty"))
	assert.False(t, h.ledger.Contains("site|c"))
}

func TestConcurrentJobsRecordOverlappingIDsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.notifier.delay = 5 * time.Millisecond
	items := []domain.Item{newsItem("a", time.Time{}), newsItem("b", time.Time{}), newsItem("c", time.Time{})}

	var total atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			total.Add(int32(h.news.Deliver(context.Background(), items, 0)))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(3), total.Load())
	assert.Len(t, h.notifier.sent(), 3)
	assert.Equal(t, 3, h.ledger.Len())
}

func TestRollingNewsQuietHoursDoNothing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.groups[GroupNews] = []domain.Item{newsItem("a", at(13, 22, 0))}
	job := h.newsJob(NewsPolicy{Quiet: gate.NewWindow(gate.MustClock("22:30"), gate.MustClock("07:30")), PerSlot: 2})

	require.NoError(t, job.Run(context.Background(), at(13, 23, 0)))
	require.NoError(t, job.Run(context.Background(), at(14, 7, 30)))

	assert.Zero(t, h.source.fetchCount())
	assert.Empty(t, h.notifier.sent())
	assert.Zero(t, h.ledger.Len())
	assert.Equal(t, 2, h.recorder.skips[JobNews+"/"+SkipQuietHours])

	require.NoError(t, job.Run(context.Background(), at(14, 7, 31)))
	assert.Len(t, h.notifier.sent(), 1)
}

func TestRollingNewsSendsNewestFirstUpToSlotCap(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.groups[GroupNews] = []domain.Item{
		newsItem("old", at(13, 8, 0)),
		newsItem("undated", time.Time{}),
		newsItem("newest", at(13, 10, 0)),
		newsItem("middle", at(13, 9, 0)),
	}
	job := h.newsJob(NewsPolicy{PerSlot: 2})

	require.NoError(t, job.Run(context.Background(), at(13, 10, 30)))
	sent := h.notifier.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Headline newest")
	assert.Contains(t, sent[1], "Headline middle")

	require.NoError(t, job.Run(context.Background(), at(13, 11, 0)))
	sent = h.notifier.sent()
	require.Len(t, sent, 4)
	assert.Contains(t, sent[2], "Headline old")
	assert.Contains(t, sent[3], "Headline undated")
}

func TestRollingNewsDailyCapResetsNextDay(t *testing.T) {
	t.Parallel()

	h := newHarness()
	for i := 0; i < 10; i++ {
		h.source.groups[GroupNews] = append(h.source.groups[GroupNews], newsItem(fmt.Sprintf("n%d", i), at(13, 8, i)))
	}
	job := h.newsJob(NewsPolicy{PerSlot: 2, PerDay: 3})

	require.NoError(t, job.Run(context.Background(), at(13, 9, 0)))
	require.NoError(t, job.Run(context.Background(), at(13, 9, 30)))
	assert.Len(t, h.notifier.sent(), 3)

	require.NoError(t, job.Run(context.Background(), at(13, 10, 0)))
	assert.Len(t, h.notifier.sent(), 3)
	assert.Equal(t, 2, h.source.fetchCount())
	assert.Equal(t, 1, h.recorder.skips[JobNews+"/"+SkipDailyCap])

	require.NoError(t, job.Run(context.Background(), at(14, 9, 0)))
	assert.Len(t, h.notifier.sent(), 5)
}

func TestRollingNewsTradingWindow(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.groups[GroupNews] = []domain.Item{newsItem("a", at(13, 8, 0))}
	job := h.newsJob(NewsPolicy{Trading: gate.NewWindow(gate.MustClock("09:15"), gate.MustClock("15:30")), PerSlot: 2})

	require.NoError(t, job.Run(context.Background(), at(13, 8, 0)))
	assert.Zero(t, h.source.fetchCount())

	require.NoError(t, job.Run(context.Background(), at(13, 9, 15)))
	assert.Len(t, h.notifier.sent(), 1)
}

func flowsItem() domain.Item {
	return domain.Item{
		ID:       "nse|17-Oct-2025",
		Title:    "FII/DII flows 17-Oct-2025",
		Body:     "Date: 17-Oct-2025\nFII Net: -308.3\nDII Net: 3232.2",
		Category: domain.CategoryFlows,
	}
}

func TestFlowsDigestSkipsWeekendsAndHolidays(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.groups[GroupFlows] = []domain.Item{flowsItem()}
	holidays, err := gate.ParseHolidays([]string{"2025-10-21"})
	require.NoError(t, err)
	job := NewDigestJob(DigestSpec{Name: JobFlows, Group: GroupFlows, TradingOnly: true, Compose: FlowsDigest("FII/DII flows")},
		h.source, h.digest, holidays, h.recorder, discard())

	require.NoError(t, job.Run(context.Background(), at(18, 20, 0)))
	require.NoError(t, job.Run(context.Background(), at(21, 20, 0)))
	assert.Zero(t, h.source.fetchCount())
	assert.Empty(t, h.notifier.sent())
	assert.Zero(t, h.ledger.Len())
	assert.Equal(t, 2, h.recorder.skips[JobFlows+"/"+SkipNotTradingDay])
}

func TestDigestPostsOncePerDay(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.groups[GroupFlows] = []domain.Item{flowsItem()}
	job := NewDigestJob(DigestSpec{Name: JobFlows, Group: GroupFlows, TradingOnly: true, Compose: FlowsDigest("FII/DII flows")},
		h.source, h.digest, nil, h.recorder, discard())

	require.NoError(t, job.Run(context.Background(), at(17, 20, 0)))
	require.NoError(t, job.Run(context.Background(), at(17, 20, 5)))

	sent := h.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "<b>FII/DII flows 17-Oct-2025</b>\n\n• Date: 17-Oct-2025\n• FII Net: -308.3\n• DII Net: 3232.2", sent[0])
	assert.True(t, h.ledger.Contains("flows|2025-10-17"))
	assert.Equal(t, 1, h.source.fetchCount())
}

func TestDigestWithNothingToPost(t *testing.T) {
	t.Parallel()

	h := newHarness()
	job := NewDigestJob(DigestSpec{Name: JobPreMarket, Group: GroupNews, TradingOnly: true, Compose: HeadlinesDigest("Pre-market brief", 6)},
		h.source, h.digest, nil, h.recorder, discard())

	require.NoError(t, job.Run(context.Background(), at(13, 9, 0)))
	assert.Empty(t, h.notifier.sent())
	assert.Zero(t, h.ledger.Len())
}

func TestHeadlinesDigest(t *testing.T) {
	t.Parallel()

	items := []domain.Item{
		newsItem("b", at(13, 8, 0)),
		{ID: "x|1", Title: "headline A", PublishedAt: at(13, 7, 0)},
		newsItem("a", at(13, 9, 0)),
		{ID: "x|2", Title: "  "},
		newsItem("c", at(13, 6, 0)),
	}
	items[2].Title = "Headline A"

	digest, ok := HeadlinesDigest("Pre-market brief", 2)(at(13, 9, 0), items)
	require.True(t, ok)
	assert.Equal(t, "Pre-market brief · Mon 13 Oct 2025", digest.Title)
	assert.Equal(t, "Headline A\nHeadline b", digest.Body)
}

func TestIPODigest(t *testing.T) {
	t.Parallel()

	items := []domain.Item{
		{ID: "c|1", Title: "Acme IPO opens", Body: "<p>Price band ₹100-105.</p>", Category: domain.CategoryIPO},
		{ID: "c|2", Title: "Sensex falls", Body: "Not an IPO story.", Category: domain.CategoryMarket},
		{ID: "c|3", Title: "Beta IPO allotment", Category: domain.CategoryIPO},
	}

	digest, ok := IPODigest("IPO watch", 8)(at(13, 10, 45), items)
	require.True(t, ok)
	assert.Equal(t, "Acme IPO opens — Price band ₹100-105.\nBeta IPO allotment", digest.Body)
	assert.Equal(t, domain.CategoryIPO, digest.Category)

	_, ok = IPODigest("IPO watch", 8)(at(13, 10, 45), nil)
	assert.False(t, ok)
}

type fakeDriver struct {
	registered map[string]gate.Trigger
	err        error
}

func (f *fakeDriver) Register(name string, trigger gate.Trigger, _ ports.Job) error {
	if f.err != nil {
		return f.err
	}
	if f.registered == nil {
		f.registered = map[string]gate.Trigger{}
	}
	f.registered[name] = trigger
	return nil
}

func TestAddDefaultJobs(t *testing.T) {
	t.Parallel()

	h := newHarness()
	driver := &fakeDriver{}
	s := NewScheduler(driver)
	s.AddDefaultJobs(JobSettings{
		PreMarket:    gate.MustClock("09:00"),
		IPO:          gate.MustClock("10:45"),
		PostMarket:   gate.MustClock("16:00"),
		Flows:        gate.MustClock("20:00"),
		NewsInterval: 30 * time.Minute,
		News:         NewsPolicy{PerSlot: 2},
	}, JobDeps{Source: h.source, NewsDelivery: h.news, DigestDelivery: h.digest, Logger: discard()})

	require.NoError(t, s.Register())
	assert.Equal(t, map[string]gate.Trigger{
		JobNews:       "*/30 * * * *",
		JobPreMarket:  "0 9 * * 1-5",
		JobIPO:        "45 10 * * 1-5",
		JobPostMarket: "0 16 * * 1-5",
		JobFlows:      "0 20 * * 1-5",
	}, driver.registered)
	assert.Len(t, s.Plans(), 5)
}

func TestSchedulerAddReplacesAndPropagatesErrors(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, time.Time) error { return nil }
	s := NewScheduler(&fakeDriver{err: errors.New("bad trigger")})
	s.Add("a", gate.Every(time.Hour), noop)
	s.Add("a", gate.Every(15*time.Minute), noop)

	plans := s.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, gate.Trigger("*/15 * * * *"), plans[0].Trigger)

	err := s.Register()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register a")
}
