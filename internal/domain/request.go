package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Granularity selects daily or monthly observations.
type Granularity string

const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
)

// Metric selects the observed quantity.
type Metric string

const (
	Rainfall       Metric = "rainfall"
	MinTemperature Metric = "minTemperature"
	MaxTemperature Metric = "maxTemperature"
)

// ParseMetric maps a metric name to a Metric, ignoring case so that the
// lowercase names ("mintemperature") are accepted too.
func ParseMetric(s string) (Metric, error) {
	for _, m := range []Metric{Rainfall, MinTemperature, MaxTemperature} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// ObservationRequest identifies one historical data download.
type ObservationRequest struct {
	Station     string      `json:"station" validate:"len=6"`
	Granularity Granularity `json:"granularity" validate:"oneof=daily monthly"`
	Metric      Metric      `json:"metric" validate:"oneof=rainfall minTemperature maxTemperature"`
	Year        *int        `json:"year,omitempty" validate:"omitempty,min=1800,max=2050"`
}

var validate = validator.New()

// Validate checks the request fields. The pipeline assumes requests are
// valid and never calls this itself; it is meant for callers at the edge.
func (r ObservationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// Display types understood by the BOM data endpoint.
const (
	DisplayStationListing = "ajaxStnListing"
	DisplayDailyYear      = "dailyDataFile"
	DisplayDailyAllYears  = "dailyZippedDataFile"
	DisplayMonthlyAll     = "monthlyZippedDataFile"
)

var obsCodes = map[Granularity]map[Metric]int{
	Monthly: {
		Rainfall:       139,
		MinTemperature: 38,
		MaxTemperature: 36,
	},
	Daily: {
		Rainfall:       136,
		MaxTemperature: 122,
		MinTemperature: 123,
	},
}

var dailyProductCodes = map[Metric]string{
	Rainfall:       "IDCJAC0009",
	MaxTemperature: "IDCJAC0010",
	MinTemperature: "IDCJAC0011",
}

// ObservationCode returns the p_nccObsCode for a granularity and metric.
func ObservationCode(g Granularity, m Metric) (int, error) {
	code, ok := obsCodes[g][m]
	if !ok {
		return 0, fmt.Errorf("no observation code for %s %s", g, m)
	}
	return code, nil
}

// ProductCode returns the archive product code for single-year daily downloads.
func ProductCode(m Metric) (string, error) {
	code, ok := dailyProductCodes[m]
	if !ok {
		return "", fmt.Errorf("no product code for %s", m)
	}
	return code, nil
}
