// Package weatherapi implements reverse geocoding and precipitation lookups
// against the weatherapi.com current-conditions endpoint.
package weatherapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/go-resty/resty/v2"
)

const (
	sourceGeocode       = "geocode"
	sourcePrecipitation = "precipitation"

	// weatherapi error code for "No matching location found."
	codeNoMatchingLocation = 1006
)

// Client implements domain.Geocoder and domain.PrecipitationSource.
type Client struct {
	http    *resty.Client
	apiKey  string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a weatherapi.com client. Transport errors and 5xx
// responses are retried twice before surfacing as a source error.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		http:    rc,
		apiKey:  apiKey,
		logger:  logger,
		metrics: metrics,
	}
}

// Locate reverse-geocodes a coordinate. Fields missing from the response are
// filled with domain.UnknownField; a response without a location record is
// domain.ErrNotFound.
func (c *Client) Locate(ctx context.Context, lat, lon float64) (domain.RegionInfo, error) {
	body, err := c.current(ctx, sourceGeocode, lat, lon)
	if err != nil {
		return domain.RegionInfo{}, err
	}
	if body.Location == nil {
		c.metrics.SourceRequests.WithLabelValues(sourceGeocode, "not_found").Inc()
		return domain.RegionInfo{}, fmt.Errorf("location for %s: %w", query(lat, lon), domain.ErrNotFound)
	}

	loc := body.Location
	info := domain.RegionInfo{
		Name:     orUnknown(loc.Name),
		Region:   orUnknown(loc.Region),
		Country:  orUnknown(loc.Country),
		Timezone: orUnknown(loc.TzID),
		Lat:      lat,
		Lon:      lon,
	}
	if loc.Lat != nil {
		info.Lat = *loc.Lat
	}
	if loc.Lon != nil {
		info.Lon = *loc.Lon
	}

	c.metrics.SourceRequests.WithLabelValues(sourceGeocode, "success").Inc()
	return info, nil
}

// PrecipitationAt returns current precipitation for a coordinate. A response
// without current.precip_mm is a source error, never a zero reading.
func (c *Client) PrecipitationAt(ctx context.Context, lat, lon float64) (domain.PrecipitationReading, error) {
	body, err := c.current(ctx, sourcePrecipitation, lat, lon)
	if errors.Is(err, domain.ErrNotFound) {
		// Without a location there is no reading either.
		return domain.PrecipitationReading{}, domain.NewSourceError(sourcePrecipitation, err)
	}
	if err != nil {
		return domain.PrecipitationReading{}, err
	}

	cur := body.Current
	switch {
	case cur == nil:
		err = errors.New("response has no current conditions")
	case cur.PrecipMM == nil:
		err = errors.New("current conditions missing precip_mm")
	case *cur.PrecipMM < 0:
		err = fmt.Errorf("negative precip_mm %v", *cur.PrecipMM)
	}
	if err != nil {
		c.metrics.SourceRequests.WithLabelValues(sourcePrecipitation, "error").Inc()
		return domain.PrecipitationReading{}, domain.NewSourceError(sourcePrecipitation, err)
	}

	reading := domain.PrecipitationReading{
		Condition: domain.UnknownField,
		PrecipMM:  *cur.PrecipMM,
	}
	if cur.Condition != nil && cur.Condition.Text != nil {
		reading.Condition = *cur.Condition.Text
	}

	c.metrics.SourceRequests.WithLabelValues(sourcePrecipitation, "success").Inc()
	return reading, nil
}

func (c *Client) current(ctx context.Context, source string, lat, lon float64) (*currentResponse, error) {
	start := time.Now()
	defer func() {
		c.metrics.SourceDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	var (
		body   currentResponse
		apiErr errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetQueryParam("q", query(lat, lon)).
		SetResult(&body).
		SetError(&apiErr).
		ForceContentType("application/json").
		Get("/current.json")
	if err != nil {
		c.metrics.SourceRequests.WithLabelValues(source, "error").Inc()
		return nil, domain.NewSourceError(source, fmt.Errorf("current.json request: %w", err))
	}

	if resp.IsError() {
		if apiErr.Error.Code == codeNoMatchingLocation {
			c.metrics.SourceRequests.WithLabelValues(source, "not_found").Inc()
			return nil, fmt.Errorf("location for %s: %w", query(lat, lon), domain.ErrNotFound)
		}
		c.metrics.SourceRequests.WithLabelValues(source, "error").Inc()
		c.logger.Warn("weatherapi error response",
			"source", source,
			"status", resp.StatusCode(),
			"code", apiErr.Error.Code,
			"message", apiErr.Error.Message,
		)
		return nil, domain.NewSourceError(source, fmt.Errorf("weatherapi status %d: %s", resp.StatusCode(), apiErr.Error.Message))
	}

	return &body, nil
}

// query formats the "lat,lon" parameter without losing precision.
func query(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

func orUnknown(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return domain.UnknownField
	}
	return *s
}

// weatherapi response types. Pointer fields distinguish a missing key from a zero value.

type currentResponse struct {
	Location *location `json:"location"`
	Current  *current  `json:"current"`
}

type location struct {
	Name    *string  `json:"name"`
	Region  *string  `json:"region"`
	Country *string  `json:"country"`
	TzID    *string  `json:"tz_id"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

type current struct {
	PrecipMM  *float64   `json:"precip_mm"`
	Condition *condition `json:"condition"`
}

type condition struct {
	Text *string `json:"text"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
