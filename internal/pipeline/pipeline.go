package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/couchcryptid/bom-stat-service/internal/domain"
	"github.com/couchcryptid/bom-stat-service/internal/observability"
)

// StationResolver looks up the canonical station number and access token.
type StationResolver interface {
	ResolveStation(ctx context.Context, stationID string, obsCode int) (domain.ResolvedStation, error)
}

// ArchiveFetcher streams the zipped archive for a resolved station.
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, st domain.ResolvedStation, shape domain.FetchShape) (io.ReadCloser, error)
}

// ArchiveExtractor writes the data files of an archive stream to a scoped directory.
type ArchiveExtractor interface {
	Extract(ctx context.Context, r io.Reader) (domain.ExtractedArchive, error)
}

// Publisher receives every successfully normalized batch.
type Publisher interface {
	Publish(ctx context.Context, batch domain.Batch) error
}

// Pipeline orchestrates the resolve-fetch-extract-parse sequence.
type Pipeline struct {
	resolver  StationResolver
	fetcher   ArchiveFetcher
	extractor ArchiveExtractor
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline with the given stages and observability. publisher
// may be nil. A nil logger discards output.
func New(r StationResolver, f ArchiveFetcher, e ArchiveExtractor, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Pipeline{
		resolver:  r,
		fetcher:   f,
		extractor: e,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetDailyStats returns daily records for the request. Without a year the
// full history is downloaded; with a year only that year's archive is.
func (p *Pipeline) GetDailyStats(ctx context.Context, req domain.ObservationRequest) ([]domain.Record, error) {
	req.Granularity = domain.Daily

	code, err := domain.ObservationCode(domain.Daily, req.Metric)
	if err != nil {
		return nil, err
	}

	shape := domain.FetchShape{
		Kind:        domain.ShapeAllYears,
		DisplayType: domain.DisplayDailyAllYears,
		ObsCode:     code,
	}
	if req.Year != nil {
		product, err := domain.ProductCode(req.Metric)
		if err != nil {
			return nil, err
		}
		shape = domain.FetchShape{
			Kind:        domain.ShapeSingleYear,
			DisplayType: domain.DisplayDailyYear,
			ObsCode:     code,
			ProductCode: product,
			StartYear:   strconv.Itoa(*req.Year),
		}
	}

	return p.run(ctx, req, shape)
}

// GetMonthlyStats returns one record per year with monthly values and the
// annual figure. The monthly archive always covers every year, so any year
// on the request is ignored.
func (p *Pipeline) GetMonthlyStats(ctx context.Context, req domain.ObservationRequest) ([]domain.Record, error) {
	req.Granularity = domain.Monthly
	req.Year = nil

	code, err := domain.ObservationCode(domain.Monthly, req.Metric)
	if err != nil {
		return nil, err
	}

	return p.run(ctx, req, domain.FetchShape{
		Kind:        domain.ShapeAllYears,
		DisplayType: domain.DisplayMonthlyAll,
		ObsCode:     code,
	})
}

func (p *Pipeline) run(ctx context.Context, req domain.ObservationRequest, shape domain.FetchShape) (records []domain.Record, err error) {
	requestID := uuid.NewString()
	logger := p.logger.With(
		"request_id", requestID,
		"station", req.Station,
		"granularity", string(req.Granularity),
		"metric", string(req.Metric),
	)
	start := domain.Clock().Now()

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			logger.Warn("request failed", "error", err)
		}
		p.metrics.Requests.WithLabelValues(string(req.Granularity), outcome).Inc()
	}()

	done := p.startStage(domain.StageResolve)
	st, err := p.resolver.ResolveStation(ctx, req.Station, shape.ObsCode)
	done()
	if err != nil {
		return nil, err
	}
	logger.Debug("station resolved", "station_number", st.StationNumber, "obs_code", shape.ObsCode)

	done = p.startStage(domain.StageFetch)
	body, err := p.fetcher.FetchArchive(ctx, st, shape)
	if err != nil {
		done()
		return nil, err
	}
	fetchedAt := domain.Clock().Now().UTC()

	// The body is consumed by the extractor, so fetch and extract overlap.
	extractDone := p.startStage(domain.StageExtract)
	archive, err := p.extractor.Extract(ctx, body)
	if cerr := body.Close(); cerr != nil {
		logger.Debug("close archive body", "error", cerr)
	}
	extractDone()
	done()
	if err != nil {
		return nil, err
	}
	defer p.removeDir(logger, archive.Dir)
	logger.Debug("archive extracted",
		"shape", shape.Kind.String(),
		"data_file", archive.DataFile,
		"discarded", len(archive.Discarded),
	)

	done = p.startStage(domain.StageParse)
	records, err = domain.ParseAndNormalize(archive.DataFile, domain.NormalizeContext{
		StationNumber: st.StationNumber,
		Metric:        req.Metric,
	})
	done()
	if err != nil {
		return nil, err
	}

	p.metrics.RecordsProduced.Add(float64(len(records)))
	logger.Info("request completed",
		"station_number", st.StationNumber,
		"records", len(records),
		"duration", domain.Clock().Since(start),
	)

	p.publish(ctx, logger, domain.Batch{
		ID:            requestID,
		Request:       req,
		StationNumber: st.StationNumber,
		FetchedAt:     fetchedAt,
		Records:       records,
	})

	return records, nil
}

// publish hands the batch to the publisher. Failures are logged and counted
// but never fail the request.
func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, batch domain.Batch) {
	if p.publisher == nil || len(batch.Records) == 0 {
		return
	}
	if err := p.publisher.Publish(ctx, batch); err != nil {
		p.metrics.PublishErrors.Inc()
		logger.Error("publish batch failed", "error", err, "records", len(batch.Records))
	}
}

func (p *Pipeline) startStage(stage domain.Stage) func() {
	start := domain.Clock().Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(domain.Clock().Since(start).Seconds())
	}
}

func (p *Pipeline) removeDir(logger *slog.Logger, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("remove temp dir failed", "dir", dir, "error", err)
	}
}
