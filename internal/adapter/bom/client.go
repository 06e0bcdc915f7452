package bom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/bom-stat-service/internal/domain"
	"github.com/couchcryptid/bom-stat-service/internal/observability"
)

const (
	listingPath = "/jsp/ncc/cdio/weatherStationDirectory/d"
	dataPath    = "/jsp/ncc/cdio/weatherData/av"
	archivePath = "/tmp/cdio"

	// listingRadius is the search radius (km) sent with station lookups.
	listingRadius = "10"
)

// Endpoint labels for metrics and logs.
const (
	endpointListing = "listing"
	endpointData    = "data"
	endpointArchive = "archive"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration // 0 disables the client timeout
	MaxFailures uint32        // consecutive failures before the breaker opens
	OpenTimeout time.Duration // how long the breaker stays open
}

// Client talks to the BOM Climate Data Online endpoints. It implements
// pipeline.StationResolver and pipeline.ArchiveFetcher.
type Client struct {
	http    *resty.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a BOM client. The underlying resty client keeps a
// cookie jar, which carries the session set up by priming requests.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	c := &Client{
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("User-Agent", "bom-stat-service"),
		baseURL: opts.BaseURL,
		logger:  logger,
		metrics: metrics,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bom",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Caller cancellation says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			c.metrics.BreakerOpen.Set(open)
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// CheckReadiness reports an error while the upstream circuit breaker is open.
func (c *Client) CheckReadiness(_ context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return errors.New("upstream circuit breaker is open")
	}
	return nil
}

// ResolveStation looks up the canonical station number and access token
// for a station and observation code.
func (c *Client) ResolveStation(ctx context.Context, stationID string, obsCode int) (domain.ResolvedStation, error) {
	params := map[string]string{
		"p_display_type": domain.DisplayStationListing,
		"p_nccObsCode":   strconv.Itoa(obsCode),
		"p_radius":       listingRadius,
		"p_stnNum":       stationID,
	}

	resp, err := c.get(ctx, request{
		endpoint: endpointListing,
		stage:    domain.StageResolve,
		station:  stationID,
		url:      c.baseURL + listingPath,
		params:   params,
	})
	if err != nil {
		return domain.ResolvedStation{}, err
	}

	st, err := ParseStationListing(bytes.NewReader(resp.Body()))
	if err != nil {
		return domain.ResolvedStation{}, &domain.StationNotFoundError{
			Station: stationID,
			ObsCode: obsCode,
			Reason:  err.Error(),
		}
	}

	c.logger.Debug("resolved station", "station", stationID, "station_number", st.StationNumber)
	return st, nil
}

// FetchArchive requests the zip archive for a resolved station. The caller
// must close the returned body.
func (c *Client) FetchArchive(ctx context.Context, st domain.ResolvedStation, shape domain.FetchShape) (io.ReadCloser, error) {
	params := map[string]string{
		"p_display_type": shape.DisplayType,
		"p_stn_num":      st.StationNumber,
		"p_c":            st.AccessToken,
		"p_nccObsCode":   strconv.Itoa(shape.ObsCode),
		"p_startYear":    shape.StartYear,
	}

	if shape.Kind == domain.ShapeAllYears {
		return c.stream(ctx, request{
			endpoint: endpointData,
			stage:    domain.StageFetch,
			station:  st.StationNumber,
			url:      c.baseURL + dataPath,
			params:   params,
			stream:   true,
		})
	}

	// The static archive is only served once the data endpoint has been hit
	// for the same station, token and year.
	if _, err := c.get(ctx, request{
		endpoint: endpointData,
		stage:    domain.StageFetch,
		station:  st.StationNumber,
		url:      c.baseURL + dataPath,
		params:   params,
	}); err != nil {
		return nil, err
	}

	return c.stream(ctx, request{
		endpoint: endpointArchive,
		stage:    domain.StageFetch,
		station:  st.StationNumber,
		url:      c.ArchiveURL(shape.ProductCode, st.StationNumber, shape.StartYear),
		stream:   true,
	})
}

func (c *Client) stream(ctx context.Context, r request) (io.ReadCloser, error) {
	resp, err := c.get(ctx, r)
	if err != nil {
		return nil, err
	}
	return &upstreamBody{ReadCloser: resp.RawBody(), client: c, req: r}, nil
}

// upstreamBody reports a failure while reading a streamed body the same way
// get reports a failed request: as an upstream error counted by the breaker.
type upstreamBody struct {
	io.ReadCloser
	client *Client
	req    request
	err    error
}

func (b *upstreamBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	n, err := b.ReadCloser.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	b.client.bodyFailed(b.req, err)
	b.err = &domain.UpstreamUnavailableError{
		Stage:   b.req.stage,
		Station: b.req.station,
		URL:     b.req.url,
		Err:     err,
	}
	return n, b.err
}

func (c *Client) bodyFailed(r request, err error) {
	c.metrics.UpstreamRequests.WithLabelValues(r.endpoint, "error").Inc()
	c.logger.Warn("upstream body read failed", "endpoint", r.endpoint, "station", r.station, "error", err)
	// The request itself already succeeded inside the breaker; record the
	// body failure as a separate failed call.
	_, _ = c.breaker.Execute(func() (interface{}, error) { return nil, err })
}

// ArchiveURL builds the static single-year archive location.
func (c *Client) ArchiveURL(productCode, stationNumber, year string) string {
	return fmt.Sprintf("%s%s/%s_%s_%s.zip", c.baseURL, archivePath, productCode, stationNumber, year)
}

type request struct {
	endpoint string
	stage    domain.Stage
	station  string
	url      string
	params   map[string]string
	stream   bool // leave the body unread for the caller
}

// statusError marks a non-2xx response inside the breaker.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (c *Client) get(ctx context.Context, r request) (*resty.Response, error) {
	start := time.Now()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.http.R().
			SetContext(ctx).
			SetDoNotParseResponse(r.stream)
		if r.params != nil {
			req.SetQueryParams(r.params)
		}

		resp, err := req.Get(r.url)
		if err != nil {
			return nil, err
		}
		if !resp.IsSuccess() {
			if r.stream && resp.RawBody() != nil {
				resp.RawBody().Close()
			}
			return nil, &statusError{code: resp.StatusCode()}
		}
		return resp, nil
	})
	c.metrics.UpstreamDuration.WithLabelValues(r.endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
		}
		c.metrics.UpstreamRequests.WithLabelValues(r.endpoint, outcome).Inc()

		upstreamErr := &domain.UpstreamUnavailableError{
			Stage:   r.stage,
			Station: r.station,
			URL:     r.url,
			Err:     err,
		}
		var se *statusError
		if errors.As(err, &se) {
			upstreamErr.StatusCode = se.code
		}
		c.logger.Warn("upstream request failed",
			"endpoint", r.endpoint,
			"station", r.station,
			"status", upstreamErr.StatusCode,
			"error", err,
		)
		return nil, upstreamErr
	}

	c.metrics.UpstreamRequests.WithLabelValues(r.endpoint, "success").Inc()
	resp, ok := result.(*resty.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp, nil
}
