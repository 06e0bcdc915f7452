// Package domain models Bureau of Meteorology (BOM) Climate Data Online
// historical observations.
//
// # Data Source
//
// Historical observations are served by http://www.bom.gov.au/climate/data/.
// Downloads are zip archives containing one CSV data file plus a companion
// notes file. A download needs two values obtained from the station directory
// listing: the canonical station number (which may differ from the number the
// caller supplied) and an opaque per-station access token, "p_c".
//
// # Observation Codes
//
// The "p_nccObsCode" parameter selects the metric and granularity:
//
//	            daily   monthly
//	rainfall      136       139
//	max temp      122        36
//	min temp      123        38
//
// Single-year daily downloads also carry a product code in the archive name:
// IDCJAC0009 (rainfall), IDCJAC0010 (max temperature), IDCJAC0011 (min
// temperature). The archive URL is /tmp/cdio/{product}_{station}_{year}.zip
// and is only served after a priming request against the data endpoint.
//
// # CSV Layouts
//
// Daily files have one row per day:
//
//	Product code,Bureau of Meteorology station number,Year,Month,Day,Rainfall amount (millimetres),...
//
// Monthly files have one row per year with twelve month columns and an
// annual column. Their names end in "2.csv", which is how [DetectFormat]
// tells the layouts apart:
//
//	Product code,Station Number,Year,Jan,Feb,Mar,...,Dec,Annual
//
// Missing values are the literal string "null".
//
// # Annual Values
//
// When Annual is null it is derived as the mean of the non-null months. A
// year with no monthly values at all yields NaN, which is kept rather than
// reported as zero. See [Annual].
package domain
