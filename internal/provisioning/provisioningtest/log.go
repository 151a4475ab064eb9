package provisioningtest

import (
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// Log collects the lines written through the logr.Logger it returns.
type Log struct {
	mu    sync.Mutex
	lines []string
}

// NewLog returns a collector and a logger, verbosity 1 included, writing
// into it.
func NewLog() (*Log, logr.Logger) {
	l := &Log{}
	logger := funcr.New(func(prefix, args string) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.lines = append(l.lines, args)
	}, funcr.Options{Verbosity: 1})
	return l, logger
}

// Lines returns every line logged so far.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Contains reports whether any line contains s.
func (l *Log) Contains(s string) bool {
	for _, line := range l.Lines() {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}
