package usecase

import (
	"log/slog"
	"time"

	"github.com/nandu-collab/marketpulse-bot/internal/gate"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
)

// Job names, also used as scheduler keys and CLI arguments.
const (
	JobNews       = "news"
	JobPreMarket  = "pre-market"
	JobIPO        = "ipo"
	JobPostMarket = "post-market"
	JobFlows      = "flows"
)

// Source groups that sites are tagged with.
const (
	GroupNews  = "news"
	GroupIPO   = "ipo"
	GroupFlows = "flows"
)

const ipoDigestLines = 8

// JobSettings carries the times and limits of the default job set.
type JobSettings struct {
	PreMarket    gate.Clock
	IPO          gate.Clock
	PostMarket   gate.Clock
	Flows        gate.Clock
	NewsInterval time.Duration
	News         NewsPolicy
	Holidays     gate.Holidays
	DigestLines  int
}

// JobDeps wires the collaborators shared by all jobs. News items and digests
// render differently, hence two deliverers over the same ledger.
type JobDeps struct {
	Source         ports.ItemSource
	NewsDelivery   *Deliverer
	DigestDelivery *Deliverer
	Metrics        metrics.Recorder
	Logger         *slog.Logger
}

// AddDefaultJobs queues the rolling news job and the four daily digests.
// Digests fire on weekdays and additionally skip exchange holidays.
func (s *Scheduler) AddDefaultJobs(set JobSettings, deps JobDeps) {
	lines := set.DigestLines
	if lines <= 0 {
		lines = 6
	}
	interval := set.NewsInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	news := NewRollingNewsJob(JobNews, GroupNews, deps.Source, deps.NewsDelivery, set.News, deps.Metrics, deps.Logger)
	s.Add(news.Name(), gate.Every(interval), news.Run)

	digests := []struct {
		at   gate.Clock
		spec DigestSpec
	}{
		{set.PreMarket, DigestSpec{Name: JobPreMarket, Group: GroupNews, TradingOnly: true, Compose: HeadlinesDigest("Pre-market brief", lines)}},
		{set.IPO, DigestSpec{Name: JobIPO, Group: GroupIPO, TradingOnly: true, Compose: IPODigest("IPO watch", ipoDigestLines)}},
		{set.PostMarket, DigestSpec{Name: JobPostMarket, Group: GroupNews, TradingOnly: true, Compose: HeadlinesDigest("Post-market wrap", lines)}},
		{set.Flows, DigestSpec{Name: JobFlows, Group: GroupFlows, TradingOnly: true, Compose: FlowsDigest("FII/DII flows")}},
	}
	for _, d := range digests {
		job := NewDigestJob(d.spec, deps.Source, deps.DigestDelivery, set.Holidays, deps.Metrics, deps.Logger)
		s.Add(job.Name(), gate.DailyAt(d.at, d.spec.TradingOnly), job.Run)
	}
}
