// Package archive extracts CSV data files from BOM zip downloads into
// per-request temporary directories.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/couchcryptid/bom-stat-service/internal/domain"
	"github.com/couchcryptid/bom-stat-service/internal/observability"
)

const (
	dataFileExt = ".csv"
	dirPattern  = "bom-stat-"
	spoolName   = ".download.zip"
)

// Extractor writes the data files of an archive stream to disk.
type Extractor struct {
	baseDir string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExtractor creates an Extractor rooted at baseDir (empty means the OS
// temp dir). A nil logger discards output; nil metrics disables counting.
func NewExtractor(baseDir string, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Extractor{baseDir: baseDir, logger: logger, metrics: metrics}
}

// Extract reads a zip archive from r into a new uniquely named directory.
// Every entry ending in .csv is written under its base name; everything
// else is skipped. The last .csv entry in archive order is the selected data
// file. A failure reading r is a *domain.UpstreamUnavailableError. On error
// the directory has already been removed; on success the caller owns
// ExtractedArchive.Dir and must remove it.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (domain.ExtractedArchive, error) {
	dir, err := os.MkdirTemp(e.baseDir, dirPattern)
	if err != nil {
		return domain.ExtractedArchive{}, fmt.Errorf("create temp dir: %w", err)
	}

	out, err := e.extractInto(ctx, dir, r)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			e.logger.Warn("remove temp dir failed", "dir", dir, "error", rmErr)
		}
		return domain.ExtractedArchive{}, err
	}
	return out, nil
}

func (e *Extractor) extractInto(ctx context.Context, dir string, r io.Reader) (domain.ExtractedArchive, error) {
	spool := filepath.Join(dir, spoolName)
	size, err := spoolTo(ctx, spool, r)
	if err != nil {
		return domain.ExtractedArchive{}, err
	}
	defer os.Remove(spool)

	f, err := os.Open(spool)
	if err != nil {
		return domain.ExtractedArchive{}, fmt.Errorf("open spooled archive: %w", err)
	}
	defer f.Close()

	zr, err := zip.NewReader(f, size)
	if err != nil {
		return domain.ExtractedArchive{}, &domain.ArchiveFormatError{Err: fmt.Errorf("read zip: %w", err)}
	}

	out := domain.ExtractedArchive{Dir: dir}
	seen := make(map[string]int)
	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedArchive{}, err
		}

		name := filepath.Base(filepath.Clean("/" + entry.Name))
		if entry.FileInfo().IsDir() || !strings.HasSuffix(name, dataFileExt) {
			out.Discarded = append(out.Discarded, entry.Name)
			continue
		}

		path, err := entryPath(dir, name, seen)
		if err != nil {
			return domain.ExtractedArchive{}, err
		}
		if err := writeEntry(entry, path); err != nil {
			return domain.ExtractedArchive{}, err
		}
		e.logger.Debug("extracted data file", "entry", entry.Name, "path", path)
		out.DataFiles = append(out.DataFiles, path)
	}

	e.count(len(out.DataFiles), len(out.Discarded))

	if len(out.DataFiles) == 0 {
		return domain.ExtractedArchive{}, &domain.ArchiveFormatError{Entries: len(zr.File)}
	}
	if len(out.DataFiles) > 1 {
		e.logger.Warn("archive has several data files, keeping the last",
			"data_files", out.DataFiles)
	}
	out.DataFile = out.DataFiles[len(out.DataFiles)-1]
	return out, nil
}

func (e *Extractor) count(data, discarded int) {
	if e.metrics == nil {
		return
	}
	e.metrics.ArchiveEntries.WithLabelValues("data").Add(float64(data))
	e.metrics.ArchiveEntries.WithLabelValues("discarded").Add(float64(discarded))
}

// entryPath places a data file under its base name. A later entry with the
// same base name goes into a numbered subdirectory so both keep their name.
func entryPath(dir, name string, seen map[string]int) (string, error) {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return filepath.Join(dir, name), nil
	}
	sub := filepath.Join(dir, strconv.Itoa(n))
	if err := os.MkdirAll(sub, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", sub, err)
	}
	return filepath.Join(sub, name), nil
}

// spoolTo copies the download to disk, since zip needs random access.
// Failures reading r are upstream failures; failures writing are local.
func spoolTo(ctx context.Context, path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create spool file: %w", err)
	}
	src := &readErrReader{r: contextReader{ctx: ctx, r: r}}
	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		return n, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, fmt.Errorf("spool archive: %w", ctxErr)
	}
	if src.err != nil {
		return 0, upstreamReadError(src.err)
	}
	return 0, fmt.Errorf("spool archive: %w", err)
}

func upstreamReadError(err error) error {
	var ue *domain.UpstreamUnavailableError
	if errors.As(err, &ue) {
		return ue
	}
	return &domain.UpstreamUnavailableError{
		Stage: domain.StageFetch,
		Err:   fmt.Errorf("read archive body: %w", err),
	}
}

// readErrReader remembers the last non-EOF error returned by r.
type readErrReader struct {
	r   io.Reader
	err error
}

func (t *readErrReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func writeEntry(entry *zip.File, path string) error {
	rc, err := entry.Open()
	if err != nil {
		return &domain.ArchiveFormatError{Err: fmt.Errorf("open entry %s: %w", entry.Name, err)}
	}
	defer rc.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return &domain.ArchiveFormatError{Err: fmt.Errorf("entry %s: %w", entry.Name, err)}
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
