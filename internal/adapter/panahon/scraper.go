// Package panahon scrapes hazard advisories from the PAGASA panahon.gov.ph
// notification panel.
package panahon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

const (
	sourceAdvisory = "advisory"

	loadingText  = "Loading..."
	pollAttempts = 15
)

// noAdvisoryText matches popup texts the site shows when a search has no hit.
var noAdvisoryText = regexp.MustCompile(`(?i)^no\s+(active\s+)?(alerts?|advisor(y|ies)|data|results?|warnings?)(\s+(found|available))?\.?$`)

// Browser opens scraping sessions against the advisory page.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one page load of the advisory site. Category indexes follow
// domain.HazardCategories.
type Session interface {
	OpenPanel(ctx context.Context) error
	Search(ctx context.Context, category int, region string) error
	PopupText(ctx context.Context) (string, error)
	Close()
}

// Scraper implements domain.AdvisorySource on top of a Browser.
type Scraper struct {
	browser      Browser
	logger       *slog.Logger
	metrics      *observability.Metrics
	pollInterval time.Duration
}

// NewScraper creates an advisory scraper.
func NewScraper(browser Browser, logger *slog.Logger, metrics *observability.Metrics) *Scraper {
	return &Scraper{
		browser:      browser,
		logger:       logger,
		metrics:      metrics,
		pollInterval: time.Second,
	}
}

// AdvisoriesFor searches each hazard category for region. A category whose
// extraction fails is absent from the bundle. Failing to load the page or
// the notification panel, or running out of time, fails the whole lookup.
func (s *Scraper) AdvisoriesFor(ctx context.Context, region string) (domain.AdvisoryBundle, error) {
	start := time.Now()
	defer func() {
		s.metrics.SourceDuration.WithLabelValues(sourceAdvisory).Observe(time.Since(start).Seconds())
	}()

	bundle, err := s.scrape(ctx, region)
	if err != nil {
		s.metrics.SourceRequests.WithLabelValues(sourceAdvisory, "error").Inc()
		return nil, domain.NewSourceError(sourceAdvisory, err)
	}
	s.metrics.SourceRequests.WithLabelValues(sourceAdvisory, "success").Inc()
	return bundle, nil
}

func (s *Scraper) scrape(ctx context.Context, region string) (domain.AdvisoryBundle, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, errors.New("empty region query")
	}

	session, err := s.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open advisory page: %w", err)
	}
	defer session.Close()

	if err := session.OpenPanel(ctx); err != nil {
		return nil, fmt.Errorf("open notification panel: %w", err)
	}

	bundle := make(domain.AdvisoryBundle, len(domain.HazardCategories))
	for i, category := range domain.HazardCategories {
		text, err := s.category(ctx, session, i, region)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scrape %s: %w", category, ctx.Err())
		}
		if err != nil {
			s.logger.Debug("advisory category unavailable",
				"region", region,
				"category", category,
				"error", err,
			)
			continue
		}
		if text != "" {
			bundle[category] = text
		}
	}
	return bundle, nil
}

func (s *Scraper) category(ctx context.Context, session Session, index int, region string) (string, error) {
	if err := session.Search(ctx, index, region); err != nil {
		return "", fmt.Errorf("search: %w", err)
	}

	for range pollAttempts {
		text, err := session.PopupText(ctx)
		if err != nil {
			return "", fmt.Errorf("read popup: %w", err)
		}
		if content := strings.TrimSpace(text); content != "" && content != loadingText {
			return cleanContent(content), nil
		}
		if !sharedretry.SleepWithContext(ctx, s.pollInterval) {
			return "", ctx.Err()
		}
	}
	return "", errors.New("popup still loading")
}

// cleanContent normalizes popup text and maps "no results" messages to absent.
func cleanContent(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	content := strings.Join(kept, "\n")
	if noAdvisoryText.MatchString(content) {
		return ""
	}
	return content
}
