// Package storage defines where a state system keeps its history.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│ StateSystem │────▶│   Backend   │────▶│ History Tree│
//	│  (ongoing)  │     │ (interface) │     │  (on disk)  │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │
//	                    ┌──────┴──────┐
//	                    ▼             ▼
//	              ┌──────────┐  ┌──────────┐
//	              │  Memory  │  │   Null   │
//	              └──────────┘  └──────────┘
//
// A backend receives closed intervals from the single writer and answers
// point queries for past states. Finished histories can be exported to
// Parquet (package parquet), analyzed with SQL (package query) and
// summarized with duration sketches (package stats).
package storage
