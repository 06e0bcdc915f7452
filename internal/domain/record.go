package domain

import (
	"encoding/json"
	"math"
	"time"
)

// ResolvedStation is the result of a station directory lookup.
type ResolvedStation struct {
	StationNumber string
	AccessToken   string
}

// ShapeKind distinguishes the two archive download paths.
type ShapeKind int

const (
	ShapeAllYears ShapeKind = iota
	ShapeSingleYear
)

func (k ShapeKind) String() string {
	if k == ShapeSingleYear {
		return "single_year"
	}
	return "all_years"
}

// FetchShape describes how an archive is requested.
type FetchShape struct {
	Kind        ShapeKind
	DisplayType string
	ObsCode     int
	ProductCode string // single year only
	StartYear   string // empty for all-years downloads
}

// ExtractedArchive is the scoped on-disk result of extracting an archive.
// Dir and everything in it belong to the caller, who must remove it.
type ExtractedArchive struct {
	Dir       string
	DataFile  string   // selected data file, the last one in archive order
	DataFiles []string // every data file written, in archive order
	Discarded []string // names of entries that were skipped
}

// Format identifies the CSV layout of a data file.
type Format int

const (
	FormatDaily Format = iota
	FormatMonthly
)

func (f Format) String() string {
	if f == FormatMonthly {
		return "monthly"
	}
	return "daily"
}

// Record is a normalized observation row. Daily-layout records fill Month,
// Day and Value; monthly-layout records fill Data.
type Record struct {
	Station string       `json:"station"`
	Year    *string      `json:"year"`
	Month   *string      `json:"month,omitempty"`
	Day     *string      `json:"day,omitempty"`
	Value   *string      `json:"value,omitempty"`
	Data    *MonthlyData `json:"data,omitempty"`

	Format Format `json:"-"`
}

// MonthlyData holds one year of monthly values.
type MonthlyData struct {
	Annual Annual    `json:"annual"`
	Months []*string `json:"months"`
}

// Annual is a yearly figure that may be NaN when no month had data.
// It encodes NaN as the JSON string "NaN" since JSON numbers cannot.
type Annual float64

func (a Annual) IsNaN() bool {
	return math.IsNaN(float64(a))
}

func (a Annual) MarshalJSON() ([]byte, error) {
	if a.IsNaN() {
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(float64(a))
}

func (a *Annual) UnmarshalJSON(b []byte) error {
	if string(b) == `"NaN"` {
		*a = Annual(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*a = Annual(f)
	return nil
}

// Batch is a completed request handed to publishers.
type Batch struct {
	ID            string
	Request       ObservationRequest
	StationNumber string
	FetchedAt     time.Time
	Records       []Record
}
