package s3

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LogArchive stores remote job logs under a prefix, one directory per run.
// The prefix is a local directory or an s3:// URI.
type LogArchive struct {
	store  *Store
	prefix string
	run    string
}

// NewLogArchive returns an archive writing below prefix/<run>. The run name
// defaults to the start time in UTC.
func NewLogArchive(store *Store, prefix, run string) *LogArchive {
	if run == "" {
		run = time.Now().UTC().Format("20060102T150405Z")
	}
	return &LogArchive{store: store, prefix: prefix, run: run}
}

// Target returns where the log of description on host is written.
func (a *LogArchive) Target(host, description string) string {
	name := sanitize(host) + "-" + sanitize(description) + ".log"
	if IsURI(a.prefix) {
		loc, err := ParseURI(a.prefix)
		if err != nil {
			return a.prefix
		}
		return loc.Join(a.run, name).String()
	}
	return filepath.Join(a.prefix, a.run, name)
}

// ArchiveLog writes log for a job.
func (a *LogArchive) ArchiveLog(ctx context.Context, host, description string, log []byte) error {
	target := a.Target(host, description)
	if err := a.store.Write(ctx, target, log, 0o600); err != nil {
		return fmt.Errorf("failed to archive log to %s: %w", target, err)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Trim(unsafeName.ReplaceAllString(s, "_"), "_")
}
