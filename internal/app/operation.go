package app

import "offsync-go/internal/offsync"

// Operation tracks a CLI invocation. Operations are created in memory; only commands
// that read or change a tree persist them in the history database.
type Operation struct {
	RunID      string
	Name       string
	Parameters string
	Status     string
	Report     *offsync.Report

	run *offsync.Run
}

// NewOperation creates a new in-memory operation that is successful until told otherwise.
func NewOperation(runID, name, parameters string) *Operation {
	return &Operation{
		RunID:      runID,
		Name:       name,
		Parameters: parameters,
		Status:     offsync.RunSuccess,
	}
}

// Persisted returns true if this operation has been saved to the history database.
func (op *Operation) Persisted() bool {
	return op.run != nil
}

// Finish stores the outcome of the operation. A report with errored records marks the
// operation failed even when err is nil.
func (op *Operation) Finish(rep *offsync.Report, err error) {
	if rep != nil {
		op.Report = rep
	}
	if err != nil || (rep != nil && rep.HasErrors()) {
		op.Status = offsync.RunFailed
	}
}
