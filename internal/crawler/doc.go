// Package crawler defines the core types shared by the search engine: the
// declarative Target, the per-run FetchConfig, extracted Records, and the
// FetchOutcome returned by fetchers, along with the interfaces that connect
// the fetcher, extractor, pipeline, and sinks.
package crawler
