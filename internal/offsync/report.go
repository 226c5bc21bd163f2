package offsync

import (
	"sync"
	"sync/atomic"
)

// Issue is a warning or error attached to a record at the end of a run.
type Issue struct {
	TopDirectory string
	RelativePath string
	UpdateType   UpdateType
	Status       Status
	Message      string
}

// Report summarizes a writer or applier run.
type Report struct {
	Total     int
	Completed int
	Skipped   int
	Warned    int
	Errored   int
	Unchecked int
	Bytes     int64
	Issues    []Issue
}

// HasErrors reports whether any record failed.
func (r *Report) HasErrors() bool { return r.Errored > 0 }

// Progress is passed to Hooks.OnProgress.
type Progress struct {
	Stage      string
	Done       int
	Total      int
	BytesDone  int64
	BytesTotal int64
	Current    string
}

// Hooks are optional callbacks. They may be invoked from several workers at once.
type Hooks struct {
	OnProgress func(Progress)
	OnRecord   func(*UpdateRecord)
}

// tracker is the shared state of a concurrent run: counters for progress callbacks and
// an append-only issue list.
type tracker struct {
	hooks      Hooks
	stage      string
	total      int
	bytesTotal int64

	done    atomic.Int64
	bytes   atomic.Int64
	skipped atomic.Int64

	mu     sync.Mutex
	issues []Issue
}

func newTracker(hooks Hooks, stage string, records []*UpdateRecord) *tracker {
	t := &tracker{hooks: hooks, stage: stage, total: len(records)}
	for _, r := range records {
		if r.HasPayload() {
			t.bytesTotal += r.Size
		}
	}
	return t
}

func (t *tracker) addBytes(n int64) {
	t.bytes.Add(n)
	t.emit("")
}

// note appends the record to the issue list if it carries a warning or an error.
func (t *tracker) note(r *UpdateRecord) {
	if r.Status != StatusWarned && r.Status != StatusErrored {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issues = append(t.issues, Issue{
		TopDirectory: r.TopDirectory,
		RelativePath: r.RelativePath,
		UpdateType:   r.UpdateType,
		Status:       r.Status,
		Message:      r.Message,
	})
}

// finish records the outcome of one processed record and fires the hooks.
func (t *tracker) finish(r *UpdateRecord) {
	t.done.Add(1)
	t.note(r)
	if t.hooks.OnRecord != nil {
		t.hooks.OnRecord(r)
	}
	t.emit(r.Key())
}

func (t *tracker) emit(current string) {
	if t.hooks.OnProgress == nil {
		return
	}
	t.hooks.OnProgress(Progress{
		Stage:      t.stage,
		Done:       int(t.done.Load()),
		Total:      t.total,
		BytesDone:  t.bytes.Load(),
		BytesTotal: t.bytesTotal,
		Current:    current,
	})
}

// report builds the summary over all records of a manifest.
func (t *tracker) report(records []*UpdateRecord) *Report {
	rep := &Report{Bytes: t.bytes.Load(), Skipped: int(t.skipped.Load())}
	for _, r := range records {
		rep.Total++
		if !r.Checked {
			rep.Unchecked++
		}
		switch r.Status {
		case StatusCompleted:
			rep.Completed++
		case StatusWarned:
			rep.Warned++
		case StatusErrored:
			rep.Errored++
		}
	}
	t.mu.Lock()
	rep.Issues = append([]Issue(nil), t.issues...)
	t.mu.Unlock()
	return rep
}
