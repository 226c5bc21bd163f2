package offsync

import (
	"path"
	"sort"
	"time"
)

// UpdateType classifies how a file differs between the local tree and the snapshot.
type UpdateType string

const (
	UpdateAdd    UpdateType = "add"
	UpdateModify UpdateType = "modify"
	UpdateDelete UpdateType = "delete"
	UpdateMove   UpdateType = "move"
)

// Status is the processing state of an UpdateRecord.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusWarned    Status = "warned"
	StatusErrored   Status = "errored"
)

// ExportMode selects how payload bytes reach the patch directory.
type ExportMode string

const (
	ExportCopy           ExportMode = "copy"
	ExportHardLink       ExportMode = "hardlink"
	ExportPreferHardLink ExportMode = "prefer_hardlink"
	ExportScript         ExportMode = "script"
)

// FileRecord is the metadata of one file under a sync root.
// RelativePath always uses forward slashes.
type FileRecord struct {
	TopDirectory string    `json:"top_directory"`
	RelativePath string    `json:"relative_path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"mod_time"`
}

// Key identifies the record across roots.
func (f FileRecord) Key() string {
	return path.Join(f.TopDirectory, f.RelativePath)
}

// UpdateRecord is a FileRecord together with the change that has to be applied offsite.
type UpdateRecord struct {
	FileRecord
	UpdateType      UpdateType `json:"update_type"`
	OldRelativePath string     `json:"old_relative_path,omitempty"`
	TempName        string     `json:"temp_name,omitempty"`
	Encrypted       bool       `json:"encrypted,omitempty"`
	PayloadHash     string     `json:"payload_hash,omitempty"`
	Checked         bool       `json:"checked"`
	Status          Status     `json:"status"`
	Message         string     `json:"message,omitempty"`
}

// HasPayload reports whether the record carries file content in the patch.
func (r *UpdateRecord) HasPayload() bool {
	return r.UpdateType == UpdateAdd || r.UpdateType == UpdateModify
}

// Warn attaches an advisory message to the record.
func (r *UpdateRecord) Warn(msg string) {
	r.Status = StatusWarned
	r.Message = msg
}

// Fail marks the record as errored.
func (r *UpdateRecord) Fail(err error) {
	r.Status = StatusErrored
	r.Message = err.Error()
}

// Complete marks a pending record as processed. Warnings and errors are kept.
func (r *UpdateRecord) Complete() {
	if r.Status == StatusPending || r.Status == "" {
		r.Status = StatusCompleted
	}
}

// Root is a registered sync root: its tag (the directory's leaf name) and absolute path.
type Root struct {
	Tag  string `json:"tag"`
	Path string `json:"path"`
}

// Snapshot is the metadata listing of the offsite roots.
type Snapshot struct {
	CreatedAt time.Time    `json:"created_at"`
	Roots     []Root       `json:"roots"`
	Files     []FileRecord `json:"files"`
}

// Tags returns every root tag known to the snapshot, sorted.
func (s *Snapshot) Tags() []string {
	seen := make(map[string]bool)
	for _, r := range s.Roots {
		seen[r.Tag] = true
	}
	for _, f := range s.Files {
		seen[f.TopDirectory] = true
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// FilesByRoot groups the snapshot records by TopDirectory, keeping snapshot order.
func (s *Snapshot) FilesByRoot() map[string][]FileRecord {
	out := make(map[string][]FileRecord)
	for _, f := range s.Files {
		out[f.TopDirectory] = append(out[f.TopDirectory], f)
	}
	return out
}

// Manifest is the serialized update set carried with the patch payloads.
type Manifest struct {
	CreatedAt        time.Time           `json:"created_at"`
	Roots            []Root              `json:"roots"`
	Encrypted        bool                `json:"encrypted"`
	ExportMode       ExportMode          `json:"export_mode,omitempty"`
	Records          []*UpdateRecord     `json:"records"`
	LocalDirectories map[string][]string `json:"local_directories"`
}

// RootPaths returns the offsite path of every root keyed by tag.
func (m *Manifest) RootPaths() map[string]string {
	out := make(map[string]string, len(m.Roots))
	for _, r := range m.Roots {
		out[r.Tag] = r.Path
	}
	return out
}

// Count returns the number of records of the given type.
func (m *Manifest) Count(t UpdateType) int {
	n := 0
	for _, r := range m.Records {
		if r.UpdateType == t {
			n++
		}
	}
	return n
}
