package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags declares the search flags Load understands. Defaults shown in
// help mirror the configuration defaults; only flags the user sets override
// file and environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("concurrency", 8, "maximum requests in flight across all targets")
	fs.Duration("timeout", 0, "total time budget per request attempt (default 20s)")
	fs.Duration("connect-timeout", 0, "connection timeout (default 5s)")
	fs.Duration("read-timeout", 0, "response header timeout (default 10s)")
	fs.Int("retries", 3, "retries after the first attempt")
	fs.Duration("rate-delay", 0, "fixed delay before every request")
	fs.StringArray("ua", nil, "user agent to rotate through (repeatable)")
	fs.String("csv", "results.csv", "CSV output path; gs://bucket/object writes to Cloud Storage")
	fs.String("output", OutputCSV, "output kind: csv, sqlite, postgres or none")
	fs.Bool("no-robots", false, "skip robots.txt checks")
	fs.Bool("intensive", false, "rotate the user agent before every target")
	fs.BoolP("verbose", "v", false, "debug logging")

	fs.Bool("intensiva", false, "alias of --intensive")
	fs.Bool("intesiva", false, "alias of --intensive")
	_ = fs.MarkHidden("intensiva")
	_ = fs.MarkHidden("intesiva")
}
