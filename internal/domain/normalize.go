package domain

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// monthlyFileSuffix marks the monthly/annual CSV layout in archive entry names.
const monthlyFileSuffix = "2.csv"

// monthColumns lists the monthly layout columns in calendar order.
var monthColumns = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// NormalizeContext carries what the normalizers need beyond the table itself.
type NormalizeContext struct {
	// StationNumber is the canonical number from the station directory. It
	// is stamped on every record instead of the caller's station id.
	StationNumber string
	// Metric is the requested metric. Empty means no value column is looked up.
	Metric Metric
}

// DetectFormat picks the CSV layout from a data file name.
func DetectFormat(filename string) Format {
	if strings.HasSuffix(filename, monthlyFileSuffix) {
		return FormatMonthly
	}
	return FormatDaily
}

// ParseAndNormalize reads the CSV at path and normalizes it with the layout
// detected from the file name.
func ParseAndNormalize(path string, nctx NormalizeContext) ([]Record, error) {
	name := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{File: name, Err: err}
	}
	defer f.Close()

	table, err := ParseTable(name, f)
	if err != nil {
		return nil, err
	}

	return Normalize(table, DetectFormat(name), nctx), nil
}

// Normalize applies the transform for the given layout to every row.
func Normalize(table Table, format Format, nctx NormalizeContext) []Record {
	if format == FormatMonthly {
		return NormalizeMonthly(table, nctx)
	}
	return NormalizeDaily(table, nctx)
}

// NormalizeDaily converts daily-layout rows. The value column is the first
// header containing "rainfall" or "temperature", case-insensitively.
func NormalizeDaily(table Table, nctx NormalizeContext) []Record {
	valueColumn := ""
	if nctx.Metric != "" {
		valueColumn = findValueColumn(table.Columns)
	}

	records := make([]Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		rec := Record{
			Station: nctx.StationNumber,
			Year:    row.Get("Year"),
			Month:   row.Get("Month"),
			Day:     row.Get("Day"),
			Format:  FormatDaily,
		}
		if valueColumn != "" {
			rec.Value = row.Get(valueColumn)
		}
		records = append(records, rec)
	}
	return records
}

func findValueColumn(columns []string) string {
	for _, c := range columns {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "rainfall") || strings.Contains(lc, "temperature") {
			return c
		}
	}
	return ""
}

// NormalizeMonthly converts monthly-layout rows. Month cells are kept as
// they are. A numeric Annual is used as is; otherwise Annual is the mean of
// the numeric months.
func NormalizeMonthly(table Table, nctx NormalizeContext) []Record {
	records := make([]Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		months := make([]*string, len(monthColumns))
		for i, m := range monthColumns {
			months[i] = row.Get(m)
		}

		records = append(records, Record{
			Station: nctx.StationNumber,
			Year:    row.Get("Year"),
			Data: &MonthlyData{
				Annual: annualValue(row.Get("Annual"), months),
				Months: months,
			},
			Format: FormatMonthly,
		})
	}
	return records
}

func annualValue(annual *string, months []*string) Annual {
	if v, ok := parseNumber(annual); ok {
		return Annual(v)
	}
	return MeanOfMonths(months)
}

// MeanOfMonths averages the month values that parse as numbers. Null, empty
// and non-numeric cells are skipped. It is NaN when no month has a value.
func MeanOfMonths(months []*string) Annual {
	var sum float64
	var n int
	for _, m := range months {
		v, ok := parseNumber(m)
		if !ok {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return Annual(math.NaN())
	}
	return Annual(sum / float64(n))
}

func parseNumber(s *string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
