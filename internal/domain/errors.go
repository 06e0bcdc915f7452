package domain

import (
	"fmt"
	"strings"
)

// Stage names a pipeline step for error and metric context.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageParse   Stage = "parse"
)

// StationNotFoundError reports that the station directory had no usable
// row or access token for the station.
type StationNotFoundError struct {
	Station string
	ObsCode int
	Reason  string
}

func (e *StationNotFoundError) Error() string {
	return fmt.Sprintf("station %s not found for obs code %d: %s", e.Station, e.ObsCode, e.Reason)
}

// UpstreamUnavailableError reports a transport failure, a non-2xx response,
// or an open circuit breaker while talking to BOM.
type UpstreamUnavailableError struct {
	Stage      Stage
	Station    string
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamUnavailableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream unavailable during %s", e.Stage)
	if e.Station != "" {
		fmt.Fprintf(&b, " for station %s", e.Station)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// ArchiveFormatError reports an archive without a data file, or one that
// cannot be read as a zip.
type ArchiveFormatError struct {
	Entries int
	Err     error
}

func (e *ArchiveFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive format: %v", e.Err)
	}
	return fmt.Sprintf("archive format: no .csv data file among %d entries", e.Entries)
}

func (e *ArchiveFormatError) Unwrap() error { return e.Err }

// ParseError reports malformed or empty tabular content.
type ParseError struct {
	File string
	Line int // 0 when not tied to a line
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
