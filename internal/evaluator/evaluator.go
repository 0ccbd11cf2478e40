// Package evaluator runs evaluation passes: every fence is geocoded, checked
// against hazard advisories and precipitation, and its activation flag
// written back, with each fence isolated from the failures of the others.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// FenceStore lists fences and persists their activation flag.
type FenceStore interface {
	ListFences(ctx context.Context) ([]domain.Fence, error)
	// SetActive returns domain.ErrNotFound when the fence no longer exists.
	SetActive(ctx context.Context, id string, active bool) error
}

// Publisher announces fences whose stored flag changed.
type Publisher interface {
	PublishActivation(ctx context.Context, event domain.FenceActivationChanged) error
}

// Sources groups the external reads a fence evaluation depends on.
type Sources struct {
	Geocoder      domain.Geocoder
	Advisory      domain.AdvisorySource
	Precipitation domain.PrecipitationSource
}

// Options tunes a pass.
type Options struct {
	Concurrency  int           // fences evaluated at once; < 1 means sequential
	FenceTimeout time.Duration // budget for one fence, zero for none
	Clock        clockwork.Clock
}

// Outcome is the result of evaluating one fence.
type Outcome string

const (
	OutcomeActivated                Outcome = "activated"
	OutcomeDeactivated              Outcome = "deactivated"
	OutcomeSkippedMalformedGeometry Outcome = "skipped_malformed_geometry"
	OutcomeFailed                   Outcome = "failed"
	OutcomeVanished                 Outcome = "vanished" // deleted between list and write
)

// FenceResult records what happened to one fence during a pass.
type FenceResult struct {
	FenceID  string
	Outcome  Outcome
	Decision domain.Decision
	Changed  bool // stored flag differs from the one read at list time
	Degraded bool // decided without advisory input
	Err      error
}

// PassSummary tallies a full pass.
type PassSummary struct {
	StartedAt time.Time
	Duration  time.Duration
	Results   []FenceResult
	Outcomes  map[Outcome]int
}

// Evaluator applies the activation policy to every stored fence.
type Evaluator struct {
	store     FenceStore
	sources   Sources
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates an Evaluator. publisher may be nil to disable change events.
func New(store FenceStore, sources Sources, publisher Publisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Evaluator{
		store:     store,
		sources:   sources,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunPass evaluates every fence once. It returns an error only when the
// fence list cannot be read; per-fence failures are reported in the summary.
func (e *Evaluator) RunPass(ctx context.Context) (PassSummary, error) {
	summary := PassSummary{
		StartedAt: e.opts.Clock.Now(),
		Outcomes:  make(map[Outcome]int),
	}

	fences, err := e.store.ListFences(ctx)
	if err != nil {
		summary.Duration = e.opts.Clock.Since(summary.StartedAt)
		return summary, fmt.Errorf("list fences: %w", err)
	}

	results := make([]FenceResult, len(fences))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, fence := range fences {
		g.Go(func() error {
			results[i] = e.EvaluateFence(ctx, fence)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		summary.Outcomes[r.Outcome]++
	}
	summary.Results = results
	summary.Duration = e.opts.Clock.Since(summary.StartedAt)
	return summary, nil
}

// EvaluateFence runs the full pipeline for one fence. It never panics and
// never returns an error: every failure becomes an Outcome.
func (e *Evaluator) EvaluateFence(ctx context.Context, fence domain.Fence) (res FenceResult) {
	logger := e.logger.With("fence_id", fence.ID)
	res.FenceID = fence.ID

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic evaluating fence: %v", r)
			logger.Error("fence evaluation panicked", "panic", r)
		}
		e.metrics.FenceOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}()

	if e.opts.FenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.FenceTimeout)
		defer cancel()
	}

	point, err := fence.RepresentativePoint()
	if err != nil {
		logger.Warn("skipping fence with malformed geometry", "error", err)
		res.Outcome, res.Err = OutcomeSkippedMalformedGeometry, err
		return res
	}
	lat, lon := point.Lat(), point.Lon()
	logger = logger.With("lat", lat, "lon", lon)

	region, err := e.sources.Geocoder.Locate(ctx, lat, lon)
	if err != nil {
		logger.Error("fence evaluation failed", "stage", "geocode", "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	query := region.AdvisoryQuery()
	logger = logger.With("region", query)

	bundle, precip, degraded, err := e.hazards(ctx, query, lat, lon)
	if err != nil {
		logger.Error("fence evaluation failed", "stage", "hazards", "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if degraded {
		e.metrics.DegradedDecisions.Inc()
		logger.Warn("advisory source unavailable, deciding on precipitation alone")
	}

	decision := domain.Decide(bundle, precip)
	res.Decision, res.Degraded = decision, degraded

	if err := e.store.SetActive(ctx, fence.ID, decision.Active); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("fence removed during evaluation", "error", err)
			res.Outcome, res.Err = OutcomeVanished, err
			return res
		}
		logger.Error("fence evaluation failed", "stage", "persist", "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	res.Outcome = OutcomeDeactivated
	if decision.Active {
		res.Outcome = OutcomeActivated
	}
	res.Changed = fence.Active != decision.Active

	logger.Info("fence evaluated",
		"outcome", res.Outcome,
		"reason", decision.Reason,
		"hazards", decision.Hazards,
		"precip_mm", precipAttr(precip),
		"changed", res.Changed,
		"degraded", degraded,
	)

	if res.Changed {
		e.publish(ctx, logger, fence, region, lat, lon, decision, precip, degraded)
	}
	return res
}

// hazards queries the advisory and precipitation sources concurrently. An
// advisory failure is tolerated when precipitation is known (the result is
// flagged degraded); a precipitation failure leaves precipitation unknown.
// Only when both fail is the evaluation an error.
func (e *Evaluator) hazards(ctx context.Context, region string, lat, lon float64) (domain.AdvisoryBundle, domain.Precipitation, bool, error) {
	var (
		bundle    domain.AdvisoryBundle
		reading   domain.PrecipitationReading
		advErr    error
		precipErr error
		g         errgroup.Group
	)
	g.Go(func() error {
		advErr = recovered(func() (err error) {
			bundle, err = e.sources.Advisory.AdvisoriesFor(ctx, region)
			return err
		})
		return nil
	})
	g.Go(func() error {
		precipErr = recovered(func() (err error) {
			reading, err = e.sources.Precipitation.PrecipitationAt(ctx, lat, lon)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if advErr != nil && precipErr != nil {
		return nil, domain.Precipitation{}, false, errors.Join(
			fmt.Errorf("advisory: %w", advErr),
			fmt.Errorf("precipitation: %w", precipErr),
		)
	}

	precip := domain.Precipitation{}
	if precipErr == nil {
		precip = domain.KnownPrecipitation(reading.PrecipMM)
	} else {
		e.logger.Warn("precipitation unavailable, deciding on advisories alone",
			"region", region, "lat", lat, "lon", lon, "error", precipErr)
	}

	degraded := false
	if advErr != nil {
		bundle = domain.AdvisoryBundle{}
		degraded = true
	}
	return bundle, precip, degraded, nil
}

func (e *Evaluator) publish(ctx context.Context, logger *slog.Logger, fence domain.Fence, region domain.RegionInfo,
	lat, lon float64, decision domain.Decision, precip domain.Precipitation, degraded bool) {
	if e.publisher == nil {
		return
	}

	event := domain.FenceActivationChanged{
		FenceID:     fence.ID,
		FenceName:   fence.Name,
		IsActive:    decision.Active,
		Reason:      decision.Reason,
		Hazards:     decision.Hazards,
		Region:      region.AdvisoryQuery(),
		Lat:         lat,
		Lon:         lon,
		Degraded:    degraded,
		EvaluatedAt: e.opts.Clock.Now().UTC(),
	}
	if precip.Known {
		mm := precip.MM
		event.PrecipMM = &mm
	}

	if err := e.publisher.PublishActivation(ctx, event); err != nil {
		e.metrics.ActivationEvents.WithLabelValues("error").Inc()
		logger.Error("failed to publish activation change", "error", err)
		return
	}
	e.metrics.ActivationEvents.WithLabelValues("published").Inc()
}

// recovered runs fn, turning a panic into an error so it cannot escape a
// goroutine the fence-level recover does not cover.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func precipAttr(p domain.Precipitation) any {
	if !p.Known {
		return "unknown"
	}
	return p.MM
}
