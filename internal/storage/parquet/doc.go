// Package parquet exports state histories to Parquet files and reads them
// back.
//
// The package provides:
//   - IntervalWriter/IntervalReader for interval rows
//   - ExportHistory, writing every interval of every attribute
//   - ImportHistory, replaying an export into a new state system
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
