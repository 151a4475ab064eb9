package provisioning

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/imamik/kubehop/internal/metrics"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/remote"
)

// Outcome is what happened to one node in a run.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"
	OutcomeNotAttempted Outcome = "not attempted"
)

// logTailLines is how much of a failed job's log the report repeats.
const logTailLines = 20

// NodeResult is one report line.
type NodeResult struct {
	Group    string
	Host     string
	Role     node.Role
	Step     string
	Outcome  Outcome
	Err      error
	LogTail  string
	Duration time.Duration
}

// Report collects per-node outcomes of a run. Nodes are listed up front as
// not attempted and move to succeeded or failed as work happens. It is safe
// for concurrent use.
type Report struct {
	Title string

	mu      sync.Mutex
	results []NodeResult
	started map[string]time.Time
}

// NewReport returns an empty report.
func NewReport(title string) *Report {
	return &Report{Title: title, started: map[string]time.Time{}}
}

// Plan adds every member under group as not attempted.
func (r *Report) Plan(group string, members []node.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range members {
		r.results = append(r.results, NodeResult{
			Group:   group,
			Host:    m.Address.Host(),
			Role:    m.Role,
			Outcome: OutcomeNotAttempted,
		})
	}
}

// Start marks the beginning of step on host.
func (r *Report) Start(group, host, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res := r.find(group, host); res != nil {
		res.Step = step
		if _, ok := r.started[group+"/"+host]; !ok {
			r.started[group+"/"+host] = time.Now()
		}
	}
}

// Succeeded records that every step on host finished.
func (r *Report) Succeeded(group, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res := r.find(group, host); res != nil {
		res.Outcome = OutcomeSucceeded
		res.Duration = r.elapsed(group, host)
	}
}

// Failed records the failure of the current step on host. The tail of a
// remote job log is kept when err carries one.
func (r *Report) Failed(group, host string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res := r.find(group, host); res != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		res.LogTail = remote.LogTail(jobLog(err), logTailLines)
		res.Duration = r.elapsed(group, host)
	}
}

// Results returns a copy of all report lines in plan order.
func (r *Report) Results() []NodeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NodeResult(nil), r.results...)
}

// Result returns the line for host in group.
func (r *Report) Result(group, host string) (NodeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res := r.find(group, host); res != nil {
		return *res, true
	}
	return NodeResult{}, false
}

// Count returns the number of lines with outcome o.
func (r *Report) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Record exports every line to m as a node outcome.
func (r *Report) Record(m *metrics.Metrics) {
	for _, res := range r.Results() {
		m.ObserveNode(string(res.Role), string(res.Outcome))
	}
}

// Render writes the report. Colors follow the color package's terminal
// detection.
func (r *Report) Render(w io.Writer) {
	results := r.Results()

	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "\n%s\n", r.Title)

	group := ""
	for i, res := range results {
		if res.Group != "" && (i == 0 || res.Group != group) {
			_, _ = bold.Fprintf(w, "  %s\n", res.Group)
		}
		group = res.Group
		renderLine(w, res)
	}

	_, _ = fmt.Fprintf(w, "\n%d succeeded, %d failed, %d not attempted\n",
		r.Count(OutcomeSucceeded), r.Count(OutcomeFailed), r.Count(OutcomeNotAttempted))
}

func renderLine(w io.Writer, res NodeResult) {
	label := fmt.Sprintf("%-15s %-40s %s", res.Outcome, res.Host, res.Role)
	switch res.Outcome {
	case OutcomeSucceeded:
		_, _ = color.New(color.FgGreen).Fprintf(w, "  ✓ %s (%v)\n", label, res.Duration.Round(time.Second))
	case OutcomeFailed:
		_, _ = color.New(color.FgRed).Fprintf(w, "  ✗ %s\n", label)
		if res.Step != "" {
			_, _ = fmt.Fprintf(w, "      step:   %s\n", res.Step)
		}
		if res.Err != nil {
			_, _ = fmt.Fprintf(w, "      reason: %v\n", res.Err)
		}
		if res.LogTail != "" {
			_, _ = fmt.Fprintln(w, "      log:")
			for _, line := range strings.Split(res.LogTail, "\n") {
				_, _ = color.New(color.Faint).Fprintf(w, "        %s\n", line)
			}
		}
	default:
		_, _ = color.New(color.FgYellow).Fprintf(w, "  - %s\n", label)
	}
}

func (r *Report) find(group, host string) *NodeResult {
	for i := range r.results {
		if r.results[i].Group == group && r.results[i].Host == host {
			return &r.results[i]
		}
	}
	return nil
}

func (r *Report) elapsed(group, host string) time.Duration {
	if t, ok := r.started[group+"/"+host]; ok {
		return time.Since(t)
	}
	return 0
}

func jobLog(err error) string {
	var ce *remote.CommandError
	if errors.As(err, &ce) {
		return ce.Log
	}
	var te *remote.TimeoutError
	if errors.As(err, &te) {
		return te.Log
	}
	return ""
}
