// Package domain models hurricane landfall events and the NLDAS-2 hourly
// precipitation series used to total their rainfall.
//
// # Data Source
//
// Precipitation comes from the NASA GES DISC "data rods" time-series service
// (https://hydro1.gesdisc.eosdis.nasa.gov/daac-bin/access/timeseries.cgi),
// queried one grid point at a time for the variable
// "NLDAS2:NLDAS_FORA0125_H_v2.0:Rainf" (hourly total precipitation, kg/m^2).
//
// # Grid
//
// NLDAS-2 forcing data sits on a 0.125 degree grid. Each landfall is sampled
// on an 8x8 neighborhood: latitude and longitude offsets -4..+3 times the grid
// resolution, latitude outer, longitude inner. See [SampleGrid].
//
// # Time Window
//
// A landfall's window starts at 00 UTC on the landfall date and spans 48
// hours. The service takes start and end as "YYYY-MM-DDTHH". See [NewTimeWindow].
//
// # Response Format ("asc2")
//
//	line 0      title
//	line 1      blank
//	lines 2-10  metadata, one key=value per line
//	...         blank lines, then one column header row
//	rows        <unix seconds>\t<value>
//
// Missing data is reported with large negative fill values such as -9999.
// Only strictly positive readings contribute to a total. See [ParseSeries].
//
// # Dataset
//
// The working dataset is a table with at least lat, lon, date and precip
// columns. A precip cell that is empty, NaN or negative marks the event as
// pending; a non-negative number marks it done and it is never recomputed.
// All other columns are carried through unchanged. See [Dataset].
package domain
