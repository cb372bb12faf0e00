// Package journal records one JSON line per visited page so that a run can be audited and
// summarised afterwards.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sprite-ai/pendingbot/internal/model"
)

// Result is what happened to a page.
type Result int

const (
	ResultSkipped Result = iota
	ResultApproved
	ResultWithheld
	ResultUnapproved
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSkipped:
		return "skipped"
	case ResultApproved:
		return "approved"
	case ResultWithheld:
		return "withheld"
	case ResultUnapproved:
		return "unapproved"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a result name.
func (r *Result) UnmarshalText(b []byte) error {
	for _, c := range []Result{ResultSkipped, ResultApproved, ResultWithheld, ResultUnapproved, ResultFailed} {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown journal result %q", b)
}

// Entry is one visited page.
type Entry struct {
	RunID          string          `json:"run_id"`
	Time           time.Time       `json:"time"`
	Title          string          `json:"title"`
	Result         Result          `json:"result"`
	Skip           string          `json:"skip,omitempty"`
	LatestApproved int64           `json:"latest_approved,omitempty"`
	Comment        string          `json:"comment,omitempty"`
	Simulated      bool            `json:"simulated,omitempty"`
	Verdicts       []model.Verdict `json:"verdicts,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Writer appends entries to a JSONL stream.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
	c   io.Closer
}

// NewWriter writes entries to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, enc: json.NewEncoder(w)}
}

// Create opens path for appending.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	jw := NewWriter(f)
	jw.c = f
	return jw, nil
}

// Append writes one entry.
func (w *Writer) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (w *Writer) Close() error {
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

// ReadFile parses a journal file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses journal lines from r. Lines that are not valid entries are skipped.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning journal: %w", err)
	}
	return entries, nil
}

// Summary aggregates journal entries.
type Summary struct {
	Runs      []string
	StartTime time.Time
	EndTime   time.Time
	Pages     int
	ByResult  map[Result]int
	ByReason  map[model.Reason]int // approved revisions per rule
	Approved  int                  // approved revisions
	Simulated int                  // pages approved in simulate mode
}

// Summarize aggregates entries.
func Summarize(entries []Entry) *Summary {
	s := &Summary{
		ByResult: make(map[Result]int),
		ByReason: make(map[model.Reason]int),
	}
	runs := make(map[string]bool)
	for _, e := range entries {
		s.Pages++
		s.ByResult[e.Result]++
		if e.RunID != "" && !runs[e.RunID] {
			runs[e.RunID] = true
			s.Runs = append(s.Runs, e.RunID)
		}
		if !e.Time.IsZero() {
			if s.StartTime.IsZero() || e.Time.Before(s.StartTime) {
				s.StartTime = e.Time
			}
			if e.Time.After(s.EndTime) {
				s.EndTime = e.Time
			}
		}
		if e.Result != ResultApproved {
			continue
		}
		if e.Simulated {
			s.Simulated++
		}
		for _, v := range e.Verdicts {
			if v.OK() {
				s.Approved++
				s.ByReason[v.Reason]++
			}
		}
	}
	return s
}

// String renders the summary as text.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pages visited: %d", s.Pages)
	if len(s.Runs) > 0 {
		fmt.Fprintf(&b, " in %d run(s)", len(s.Runs))
	}
	b.WriteString("\n")
	if !s.StartTime.IsZero() {
		fmt.Fprintf(&b, "Period: %s .. %s\n", s.StartTime.UTC().Format(time.RFC3339), s.EndTime.UTC().Format(time.RFC3339))
	}
	for _, r := range []Result{ResultApproved, ResultWithheld, ResultUnapproved, ResultSkipped, ResultFailed} {
		if n := s.ByResult[r]; n > 0 {
			fmt.Fprintf(&b, "  %-11s %d\n", r.String()+":", n)
		}
	}
	if s.Simulated > 0 {
		fmt.Fprintf(&b, "Simulated approvals: %d\n", s.Simulated)
	}
	fmt.Fprintf(&b, "Revisions approved: %d\n", s.Approved)

	reasons := make([]model.Reason, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if s.ByReason[reasons[i]] != s.ByReason[reasons[j]] {
			return s.ByReason[reasons[i]] > s.ByReason[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	for _, r := range reasons {
		fmt.Fprintf(&b, "  %-11s %d\n", r.String()+":", s.ByReason[r])
	}
	return b.String()
}
