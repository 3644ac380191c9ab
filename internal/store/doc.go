// Package store keeps each asset's bounded, time-ordered risk record
// history in memory for the query and charting surfaces.
package store
