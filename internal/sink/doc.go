// Package sink persists search records one row at a time. Every sink projects
// records onto crawler.Columns.
package sink
