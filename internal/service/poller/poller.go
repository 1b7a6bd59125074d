// Package poller is the outer retry layer around the fetch cycle: a fixed
// interval ticker, each tick running one cycle wrapped in bounded
// exponential backoff. Persistent outages are reported, not retried forever.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"glucolink/internal/domain"
	"glucolink/internal/integrations/telegram"
	"glucolink/internal/metrics"
	"glucolink/internal/service/fetcher"
	storepkg "glucolink/internal/store"
)

// CycleRunner is the fetch orchestrator surface the poller drives.
type CycleRunner interface {
	Run(ctx context.Context) (*fetcher.Result, error)
}

// Summary reports one tick's outcome, success or not.
type Summary struct {
	CycleID         string          `json:"cycle_id"`
	Success         bool            `json:"success"`
	Latest          *domain.Reading `json:"latest,omitempty"`
	HistoryCount    int             `json:"history_count"`
	StoredCount     int             `json:"stored_count"`
	DurationSeconds float64         `json:"duration_seconds"`
	Error           string          `json:"error,omitempty"`
}

type Poller struct {
	runner   CycleRunner
	store    storepkg.Store
	notifier *telegram.Notifier

	interval  time.Duration
	attempts  uint
	baseDelay time.Duration

	// Serializes scheduled ticks and manual triggers: the session manager
	// assumes at most one fetch cycle in flight.
	mu sync.Mutex
}

func New(runner CycleRunner, store storepkg.Store, notifier *telegram.Notifier, interval time.Duration, attempts uint, baseDelay time.Duration) *Poller {
	if attempts == 0 {
		attempts = 1
	}
	return &Poller{
		runner:    runner,
		store:     store,
		notifier:  notifier,
		interval:  interval,
		attempts:  attempts,
		baseDelay: baseDelay,
	}
}

// Run blocks, fetching on every tick until the context is cancelled. It
// fires once immediately so a fresh start does not wait a full interval for
// the first reading.
func (p *Poller) Run(ctx context.Context) {
	p.tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	summary := p.RunOnce(ctx)
	if !summary.Success {
		log.Error().Str("cycle_id", summary.CycleID).Str("error", summary.Error).Msg("fetch tick failed")
	}
}

// RunOnce executes one fetch with bounded exponential backoff and writes the
// results to the store. It never returns an unrecoverable failure: the
// outcome, good or bad, is the Summary.
func (p *Poller) RunOnce(ctx context.Context) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	var result *fetcher.Result
	err := retry.Do(func() error {
		var runErr error
		result, runErr = p.runner.Run(ctx)
		return runErr
	},
		retry.Attempts(p.attempts),
		retry.Delay(p.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Uint("attempt", n+1).Err(err).Msg("fetch cycle failed, backing off")
		}),
	)
	if err != nil {
		metrics.FetchCycles.WithLabelValues("failure").Inc()
		summary := Summary{
			Success:         false,
			Error:           err.Error(),
			DurationSeconds: time.Since(start).Seconds(),
		}
		payload := map[string]interface{}{"error": err.Error()}
		var stepErr *fetcher.StepError
		if errors.As(err, &stepErr) {
			payload["step"] = string(stepErr.Step)
		}
		p.store.AppendEvent(domain.EventFetchFailed, payload)
		return summary
	}

	stored := p.persist(result)
	metrics.FetchCycles.WithLabelValues("success").Inc()

	summary := Summary{
		CycleID:         result.CycleID,
		Success:         true,
		Latest:          result.Latest,
		HistoryCount:    len(result.History),
		StoredCount:     stored,
		DurationSeconds: time.Since(start).Seconds(),
	}
	p.store.AppendEvent(domain.EventFetchSucceeded, map[string]interface{}{
		"cycle_id":      result.CycleID,
		"history_count": len(result.History),
		"stored_count":  stored,
	})

	if result.Latest != nil && p.notifier != nil {
		if err := p.notifier.AlertIfOutOfRange(ctx, *result.Latest); err != nil {
			log.Warn().Err(err).Msg("glucose alert failed")
		}
	}
	return summary
}

// persist writes the cycle's readings. A failed write is logged and skipped:
// readings are independently idempotent and the next cycle's overlapping
// window self-heals small gaps.
func (p *Poller) persist(result *fetcher.Result) int {
	stored := 0
	if result.Latest != nil {
		if err := p.store.UpsertLatest(*result.Latest); err != nil {
			metrics.StoreWriteFailures.Inc()
			log.Warn().Err(err).Msg("upsert latest reading failed")
		}
		if err := p.store.UpsertReading(*result.Latest); err != nil {
			metrics.StoreWriteFailures.Inc()
			log.Warn().Err(err).Msg("upsert latest history point failed")
		} else {
			stored++
			metrics.ReadingsUpserted.Inc()
		}
	}
	for _, r := range result.History {
		if err := p.store.UpsertReading(r); err != nil {
			metrics.StoreWriteFailures.Inc()
			log.Warn().Err(err).Time("device_timestamp", r.DeviceTimestamp).Msg("upsert history point failed")
			continue
		}
		stored++
		metrics.ReadingsUpserted.Inc()
	}
	return stored
}
