package offsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// DiffOptions tunes change classification.
type DiffOptions struct {
	// TimeTolerance is the number of seconds two modification times may differ and
	// still be considered equal.
	TimeTolerance int
	// MoveNameSensitive requires a move candidate to keep its file name.
	MoveNameSensitive bool
	Filter            Filter
}

// DiffEngine compares a live local tree against an offsite snapshot.
type DiffEngine struct {
	fs     afero.Fs
	opts   DiffOptions
	logger Logger
	clock  Clock
}

// NewDiffEngine creates a DiffEngine.
func NewDiffEngine(fsys afero.Fs, opts DiffOptions, logger Logger, clock Clock) *DiffEngine {
	if opts.TimeTolerance < 0 {
		opts.TimeTolerance = 0
	}
	return &DiffEngine{fs: fsys, opts: opts, logger: logger, clock: clock}
}

// Diff classifies every local file against the snapshot and returns the resulting
// manifest. Unchanged files produce no record. Records are grouped per root in the
// order the local tree was walked, followed by that root's deletions.
func (e *DiffEngine) Diff(ctx context.Context, snapshot *Snapshot, mappings []RootMapping) (*Manifest, error) {
	local, err := ValidateMapping(e.fs, snapshot, mappings)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		CreatedAt:        e.clock.Now().UTC(),
		Roots:            append([]Root(nil), snapshot.Roots...),
		LocalDirectories: make(map[string][]string),
	}
	remote := snapshot.FilesByRoot()
	for _, tag := range snapshot.Tags() {
		records, dirs, err := e.diffRoot(ctx, tag, local[tag], remote[tag])
		if err != nil {
			return nil, err
		}
		m.Records = append(m.Records, records...)
		m.LocalDirectories[tag] = dirs
		e.logger.Info("root compared", "root", tag, "local", local[tag], "updates", len(records))
	}
	return m, nil
}

func (e *DiffEngine) diffRoot(ctx context.Context, tag, localRoot string, remote []FileRecord) ([]*UpdateRecord, []string, error) {
	var files []treeEntry
	dirs := []string{}
	err := walkTree(ctx, e.fs, localRoot, walkHandlers{
		file: func(entry treeEntry) { files = append(files, entry) },
		dir:  func(entry treeEntry) { dirs = append(dirs, entry.relativePath) },
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning local root %s: %w", tag, err)
	}
	sort.Strings(dirs)

	// Move candidates must not still exist locally, filtered or not.
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.relativePath] = true
	}

	idx := newRemoteIndex(remote, e.opts.TimeTolerance)
	tolerance := time.Duration(e.opts.TimeTolerance) * time.Second
	matched := make(map[string]bool)
	consumed := make(map[string]bool)

	var records []*UpdateRecord
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !included(e.opts.Filter, f.relativePath) {
			continue
		}
		rec := newFileRecord(tag, f)

		if r, ok := idx.byPath[rec.RelativePath]; ok {
			matched[rec.RelativePath] = true
			if unchanged(rec, *r, tolerance) {
				continue
			}
			u := newUpdate(rec, UpdateModify)
			if r.ModTime.Sub(rec.ModTime) > tolerance {
				u.Warn(fmt.Sprintf("offsite copy is newer than the local file (%s vs %s)",
					r.ModTime.Format(time.RFC3339), rec.ModTime.Format(time.RFC3339)))
				e.logger.Warn("offsite file newer than local", "root", tag, "path", rec.RelativePath)
			}
			records = append(records, u)
			continue
		}

		candidates := idx.candidates(rec, e.opts.MoveNameSensitive)
		switch {
		case len(candidates) == 1 && !present[candidates[0].RelativePath] && !consumed[candidates[0].RelativePath]:
			old := candidates[0].RelativePath
			consumed[old] = true
			u := newUpdate(rec, UpdateMove)
			u.OldRelativePath = old
			records = append(records, u)
		case len(candidates) > 1:
			u := newUpdate(rec, UpdateAdd)
			u.Warn(fmt.Sprintf("ambiguous move candidates (%d), copying instead", len(candidates)))
			e.logger.Warn("ambiguous move candidates", "root", tag, "path", rec.RelativePath, "candidates", len(candidates))
			records = append(records, u)
		default:
			records = append(records, newUpdate(rec, UpdateAdd))
		}
	}

	for _, r := range remote {
		if matched[r.RelativePath] || consumed[r.RelativePath] {
			continue
		}
		if !included(e.opts.Filter, r.RelativePath) {
			continue
		}
		records = append(records, newUpdate(r, UpdateDelete))
	}
	return records, dirs, nil
}

func unchanged(local, remote FileRecord, tolerance time.Duration) bool {
	if local.Size != remote.Size {
		return false
	}
	d := local.ModTime.Sub(remote.ModTime).Abs()
	return d == 0 || d < tolerance
}

func newUpdate(f FileRecord, t UpdateType) *UpdateRecord {
	return &UpdateRecord{FileRecord: f, UpdateType: t, Checked: true, Status: StatusPending}
}

// remoteIndex holds the lookups used to classify local files of one root.
type remoteIndex struct {
	byPath map[string]*FileRecord
	byName map[string][]*FileRecord
	bySize map[int64][]*FileRecord
	byTime map[int64][]*FileRecord
	exact  bool
}

func newRemoteIndex(records []FileRecord, toleranceSeconds int) *remoteIndex {
	idx := &remoteIndex{
		byPath: make(map[string]*FileRecord, len(records)),
		byName: make(map[string][]*FileRecord),
		bySize: make(map[int64][]*FileRecord),
		byTime: make(map[int64][]*FileRecord),
		exact:  toleranceSeconds == 0,
	}
	for i := range records {
		r := &records[i]
		idx.byPath[r.RelativePath] = r
		idx.byName[r.Name] = append(idx.byName[r.Name], r)
		idx.bySize[r.Size] = append(idx.bySize[r.Size], r)
		if idx.exact {
			k := r.ModTime.UnixNano()
			idx.byTime[k] = append(idx.byTime[k], r)
			continue
		}
		// One bucket per second from trunc(t)-T to ceil(t)+T.
		lo := r.ModTime.Unix() - int64(toleranceSeconds)
		hi := r.ModTime.Unix() + int64(toleranceSeconds)
		if r.ModTime.Nanosecond() != 0 {
			hi++
		}
		for k := lo; k <= hi; k++ {
			idx.byTime[k] = append(idx.byTime[k], r)
		}
	}
	return idx
}

func (idx *remoteIndex) timeKey(t time.Time) int64 {
	if idx.exact {
		return t.UnixNano()
	}
	return t.Unix()
}

// candidates intersects the size and time buckets, and the name bucket when requested.
func (idx *remoteIndex) candidates(local FileRecord, nameSensitive bool) []*FileRecord {
	lists := [][]*FileRecord{idx.bySize[local.Size], idx.byTime[idx.timeKey(local.ModTime)]}
	if nameSensitive {
		lists = append(lists, idx.byName[local.Name])
	}
	return intersect(lists...)
}

func intersect(lists ...[]*FileRecord) []*FileRecord {
	if len(lists) == 0 {
		return nil
	}
	counts := make(map[*FileRecord]int)
	for _, l := range lists {
		for _, r := range l {
			counts[r]++
		}
	}
	var out []*FileRecord
	for _, r := range lists[0] {
		if counts[r] == len(lists) {
			out = append(out, r)
		}
	}
	return out
}
