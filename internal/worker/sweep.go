package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/engine"
)

// SitePublisher publishes a computed schedule for a site.
type SitePublisher interface {
	PublishSite(ctx context.Context, slug string, schedule engine.Schedule) error
}

// SweepJob computes and publishes the schedule of every configured site.
type SweepJob struct {
	config    SweepConfig
	fetcher   engine.ScheduleFetcher
	publisher SitePublisher
	logger    zerolog.Logger
	clock     func() time.Time
	loc       *time.Location

	metrics *SweepMetrics
}

// SweepMetrics tracks sweep job statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	TotalSweeps     int64
	SuccessfulSites int64
	FailedSites     int64

	LastSweepAt       time.Time
	LastSweepDuration time.Duration
	TotalDuration     time.Duration
}

// SweepJobConfig holds configuration for creating a SweepJob.
type SweepJobConfig struct {
	Config    SweepConfig
	Fetcher   engine.ScheduleFetcher
	Publisher SitePublisher
	Logger    zerolog.Logger

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time

	// Location is the zone civil dates are computed in (default: time.Local).
	Location *time.Location
}

// NewSweepJob creates a new sweep job.
func NewSweepJob(cfg SweepJobConfig) *SweepJob {
	config := cfg.Config
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultSweepConfig().Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepConfig().Timeout
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return &SweepJob{
		config:    config,
		fetcher:   cfg.Fetcher,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		clock:     clock,
		loc:       loc,
		metrics:   &SweepMetrics{},
	}
}

// SweepResult contains the result of a sweep.
type SweepResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	TotalSites int
	Successful int
	Failed     int
	Errors     []SweepError
}

// SweepError describes a site that could not be published.
type SweepError struct {
	Site  string
	Error string
}

// Run fetches and publishes every site with bounded concurrency.
func (j *SweepJob) Run(ctx context.Context) *SweepResult {
	startTime := time.Now()
	result := &SweepResult{
		StartTime:  startTime,
		TotalSites: j.config.TotalSites(),
	}

	j.logger.Info().
		Int("total_sites", result.TotalSites).
		Int("concurrency", j.config.Concurrency).
		Msg("starting schedule sweep")

	sitesChan := make(chan Site, len(j.config.Sites))
	resultsChan := make(chan siteResult, len(j.config.Sites))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.sweepWorker(ctx, sitesChan, resultsChan)
		}()
	}

	for _, s := range j.config.Sites {
		sitesChan <- s
	}
	close(sitesChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for sr := range resultsChan {
		if sr.err == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, SweepError{Site: sr.site.Name, Error: sr.err.Error()})
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("schedule sweep completed")

	return result
}

type siteResult struct {
	site Site
	err  error
}

func (j *SweepJob) sweepWorker(ctx context.Context, sites <-chan Site, results chan<- siteResult) {
	for site := range sites {
		if err := ctx.Err(); err != nil {
			results <- siteResult{site: site, err: err}
			continue
		}
		results <- siteResult{site: site, err: j.sweepSite(ctx, site)}
	}
}

func (j *SweepJob) sweepSite(ctx context.Context, site Site) error {
	siteCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	schedule, err := engine.Lookup(siteCtx, j.fetcher, site.Coordinate, time.Time{}, j.clock().In(j.loc))
	if err != nil {
		j.logger.Warn().Err(err).Str("site", site.Name).Msg("failed to compute site schedule")
		return err
	}

	if err := j.publisher.PublishSite(siteCtx, site.Slug(), schedule); err != nil {
		j.logger.Warn().Err(err).Str("site", site.Name).Msg("failed to publish site schedule")
		return err
	}
	return nil
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalSweeps++
	j.metrics.SuccessfulSites += int64(result.Successful)
	j.metrics.FailedSites += int64(result.Failed)
	j.metrics.LastSweepAt = result.EndTime
	j.metrics.LastSweepDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SweepJob) GetMetrics() SweepMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalSweeps:       j.metrics.TotalSweeps,
		SuccessfulSites:   j.metrics.SuccessfulSites,
		FailedSites:       j.metrics.FailedSites,
		LastSweepAt:       j.metrics.LastSweepAt,
		LastSweepDuration: j.metrics.LastSweepDuration,
		TotalDuration:     j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *SweepJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_sweeps":        m.TotalSweeps,
		"successful_sites":    m.SuccessfulSites,
		"failed_sites":        m.FailedSites,
		"last_sweep_at":       m.LastSweepAt,
		"last_sweep_duration": m.LastSweepDuration.String(),
		"total_duration":      m.TotalDuration.String(),
	}
}
