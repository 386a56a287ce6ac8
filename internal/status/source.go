// Package status fetches status snapshots from the configured endpoint.
//
// A fetch never fails from the caller's point of view: any network error,
// non-2xx response or undecodable body is absorbed and the built-in fallback
// snapshot is returned in its place.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/pkg/models"
)

var tracer = otel.Tracer("tars-dashboard/status")

// maxBodyBytes caps how much of a status document is read.
const maxBodyBytes = 4 << 20

// Result is the outcome of one fetch. Snapshot is always usable; Fallback
// reports that it is the built-in dataset and Err records why.
type Result struct {
	Snapshot  *models.StatusSnapshot
	Fallback  bool
	Err       error
	FetchedAt time.Time
}

// Fetcher is anything that can produce a status snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) Result
}

// Source fetches snapshots over HTTP.
type Source struct {
	endpoint string
	client   *http.Client
	clock    clock.Clock
	fallback func() *models.StatusSnapshot
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithClock sets the time source used for cache-busting.
func WithClock(c clock.Clock) Option {
	return func(s *Source) { s.clock = c }
}

// WithFallback replaces the built-in fallback dataset.
func WithFallback(fn func() *models.StatusSnapshot) Option {
	return func(s *Source) { s.fallback = fn }
}

// NewSource creates a source for the given endpoint URL.
func NewSource(endpoint string, opts ...Option) *Source {
	s := &Source{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		clock:    clock.Real{},
		fallback: Fallback,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Endpoint returns the configured status URL.
func (s *Source) Endpoint() string { return s.endpoint }

// Fetch issues one cache-busting GET and returns the parsed snapshot or the
// fallback snapshot.
func (s *Source) Fetch(ctx context.Context) Result {
	ctx, span := tracer.Start(ctx, "status.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tars.status.endpoint", s.endpoint)),
	)
	defer span.End()

	now := s.clock.Now()
	snap, err := s.get(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("tars.status.fallback", true))
		log.Warn().Err(err).Str("endpoint", s.endpoint).Msg("Status endpoint unavailable, using fallback data")
		return Result{Snapshot: s.fallback(), Fallback: true, Err: err, FetchedAt: now}
	}

	span.SetAttributes(attribute.Bool("tars.status.fallback", false))
	log.Debug().Str("endpoint", s.endpoint).Int("memories", snap.Memories).Msg("Status snapshot fetched")
	return Result{Snapshot: snap, FetchedAt: now}
}

func (s *Source) get(ctx context.Context, now time.Time) (*models.StatusSnapshot, error) {
	target, err := cacheBusted(s.endpoint, now)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var snap models.StatusSnapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	snap.Normalize()
	return &snap, nil
}

// cacheBusted appends t=<epochMillis> to endpoint, keeping any existing query.
func cacheBusted(endpoint string, now time.Time) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
