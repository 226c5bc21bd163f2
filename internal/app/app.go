package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"offsync-go/internal/archive"
	"offsync-go/internal/config"
	"offsync-go/internal/database"
	"offsync-go/internal/encryption"
	"offsync-go/internal/fs"
	"offsync-go/internal/offsync"
)

// OffsyncApp is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes the snapshot, diff, apply and
// prune stages, and records each run in the history database on Close.
type OffsyncApp struct {
	cfg      *config.Config
	fs       afero.Fs
	store    *archive.Store
	transfer *fs.Transfer
	filter   *fs.Filter
	history  offsync.History
	logger   offsync.Logger
	clock    offsync.Clock
	op       *Operation
	logFile  *os.File
}

// absPath resolves root overrides given on the command line.
var absPath = filepath.Abs

// NewOffsyncApp creates a fully wired OffsyncApp from the given config.
// operation identifies the CLI command being run (e.g. "diff", "apply") and parameters
// is recorded with it. The caller must call Close when done.
func NewOffsyncApp(cfg *config.Config, operation, parameters string) (*OffsyncApp, error) {
	return newOffsyncApp(cfg, operation, parameters, afero.NewOsFs(), offsync.RealClock{}, offsync.UUIDGenerator{}, os.Stderr)
}

func newOffsyncApp(cfg *config.Config, operation, parameters string, fsys afero.Fs, clock offsync.Clock, ids offsync.IDGenerator, console io.Writer) (*OffsyncApp, error) {
	filter, err := fs.NewFilterFromConfig(fsys, cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("creating filter: %w", err)
	}

	history, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := history.CheckMigrations(); err != nil {
		history.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	runID := ids.New()
	logger, logFile, err := newLogger(cfg.LogDir, runID, cfg.LogLevel, console)
	if err != nil {
		history.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &OffsyncApp{
		cfg:      cfg,
		fs:       fsys,
		store:    archive.NewStore(fsys),
		transfer: fs.NewTransfer(fsys),
		filter:   filter,
		history:  history,
		logger:   &slogAdapter{l: logger},
		clock:    clock,
		op:       NewOperation(runID, operation, parameters),
		logFile:  logFile,
	}, nil
}

// RunID identifies this invocation in the log and the history.
func (a *OffsyncApp) RunID() string { return a.op.RunID }

// Config returns the configuration the app was built from.
func (a *OffsyncApp) Config() *config.Config { return a.cfg }

// PatchEncrypted reports whether the patch in patchDir needs a passphrase to apply.
func (a *OffsyncApp) PatchEncrypted(patchDir string) (bool, error) {
	m, err := a.store.ReadManifest(patchDir)
	if err != nil {
		return false, fmt.Errorf("reading manifest: %w", err)
	}
	if m.Encrypted {
		return true, nil
	}
	for _, r := range m.Records {
		if r.Encrypted {
			return true, nil
		}
	}
	return false, nil
}

// persistOperation saves the operation to the history database.
// This should only be called for commands that read or change a tree.
func (a *OffsyncApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.history.CreateRun(a.op.RunID, a.op.Name, a.op.Parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.run = run
	return nil
}

func (a *OffsyncApp) retryPolicy() (offsync.RetryPolicy, error) {
	delay, err := a.cfg.Patch.RetryDelayDuration()
	if err != nil {
		return offsync.RetryPolicy{}, err
	}
	return offsync.RetryPolicy{Attempts: a.cfg.Patch.RetryCount, Delay: delay}, nil
}

// Snapshot builds a snapshot of the offsite roots and writes it to output. Empty
// arguments fall back to the snapshot section of the config.
func (a *OffsyncApp) Snapshot(ctx context.Context, roots []string, output string) (snap *offsync.Snapshot, err error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	defer func() { a.op.Finish(nil, err) }()

	if len(roots) == 0 {
		roots = a.cfg.Snapshot.Roots
	}
	if output == "" {
		output = a.cfg.Snapshot.Output
	}
	if len(roots) == 0 {
		return nil, errors.New("no snapshot roots given")
	}
	if output == "" {
		return nil, errors.New("no snapshot output path given")
	}

	builder := offsync.NewSnapshotBuilder(a.fs, a.filter, a.logger, a.clock)
	snap, err = builder.Build(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("building snapshot: %w", err)
	}
	if err := a.fs.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := a.store.WriteSnapshot(output, snap); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	a.logger.Info("snapshot written", "path", output, "roots", len(snap.Roots), "files", len(snap.Files))
	return snap, nil
}

// LoadSnapshot reads a snapshot package.
func (a *OffsyncApp) LoadSnapshot(path string) (*offsync.Snapshot, error) {
	snap, err := a.store.ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	return snap, nil
}

// Mappings pairs every snapshot root with a local directory. Explicit overrides win
// over the diff section of the config, and remaining roots are matched by leaf name
// in searchDirs (the configured search directories when empty). The result is sorted
// by tag and is not validated.
func (a *OffsyncApp) Mappings(snap *offsync.Snapshot, overrides map[string]string, searchDirs []string) []offsync.RootMapping {
	local := make(map[string]string)
	for tag, path := range a.cfg.Diff.Roots {
		local[tag] = path
	}
	for tag, path := range overrides {
		local[tag] = path
	}
	if len(searchDirs) == 0 {
		searchDirs = a.cfg.Diff.SearchDirs
	}
	for _, m := range offsync.MatchRoots(a.fs, snap, searchDirs) {
		if _, ok := local[m.Tag]; !ok && m.Local != "" {
			local[m.Tag] = m.Local
		}
	}

	out := make([]offsync.RootMapping, 0, len(local))
	for tag, path := range local {
		out = append(out, offsync.RootMapping{Tag: tag, Local: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// DiffRequest holds the per-invocation inputs of the diff stage.
type DiffRequest struct {
	SnapshotPath string
	PatchDir     string            // defaults to patch.dir
	Roots        map[string]string // tag -> local directory
	SearchDirs   []string
	Passphrase   string
	// DryRun classifies changes without staging a patch.
	DryRun bool
	Hooks  offsync.Hooks
}

// DiffResult is the outcome of the diff stage. Report is nil for a dry run.
type DiffResult struct {
	Manifest *offsync.Manifest
	Mappings []offsync.RootMapping
	Report   *offsync.Report
}

// Diff compares the local roots against a snapshot and, unless DryRun is set, stages
// the resulting patch.
func (a *OffsyncApp) Diff(ctx context.Context, req DiffRequest) (res *DiffResult, err error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	defer func() {
		if res != nil {
			a.op.Finish(res.Report, err)
		} else {
			a.op.Finish(nil, err)
		}
	}()

	snap, err := a.LoadSnapshot(req.SnapshotPath)
	if err != nil {
		return nil, err
	}
	mappings := a.Mappings(snap, req.Roots, req.SearchDirs)

	engine := offsync.NewDiffEngine(a.fs, offsync.DiffOptions{
		TimeTolerance:     a.cfg.Diff.TimeTolerance,
		MoveNameSensitive: a.cfg.Diff.MoveNameSensitive,
		Filter:            a.filter,
	}, a.logger, a.clock)
	m, err := engine.Diff(ctx, snap, mappings)
	if err != nil {
		return nil, fmt.Errorf("comparing trees: %w", err)
	}
	res = &DiffResult{Manifest: m, Mappings: mappings}
	if req.DryRun {
		return res, nil
	}

	patchDir := req.PatchDir
	if patchDir == "" {
		patchDir = a.cfg.Patch.Dir
	}
	if patchDir == "" {
		return nil, errors.New("no patch directory given")
	}
	retry, err := a.retryPolicy()
	if err != nil {
		return nil, err
	}

	var encryptor offsync.Encryptor
	if a.cfg.Patch.Encrypt {
		encryptor, err = encryption.NewEncryptorFromConfig(a.fs, a.cfg.Encryption)
		if err != nil {
			return nil, fmt.Errorf("creating encryptor: %w", err)
		}
	}

	writer := offsync.NewPatchWriter(a.fs, a.transfer, fs.NewHardLinker(a.fs), encryptor, a.store, a.logger, offsync.WriterOptions{
		PatchDir:       patchDir,
		ExportMode:     offsync.ExportMode(a.cfg.Patch.ExportMode),
		Encrypt:        a.cfg.Patch.Encrypt,
		Passphrase:     req.Passphrase,
		VerifyPayloads: a.cfg.Patch.VerifyPayloads,
		Workers:        a.cfg.Workers,
		Retry:          retry,
		Hooks:          req.Hooks,
	})
	res.Report, err = writer.Write(ctx, m, mappings)
	if err != nil {
		return res, fmt.Errorf("writing patch: %w", err)
	}
	return res, nil
}

// ApplyRequest holds the per-invocation inputs of the apply stage.
type ApplyRequest struct {
	PatchDir   string
	Passphrase string
	Roots      map[string]string // tag -> offsite directory, overrides apply.roots
	// DryRun pre-flights the patch without touching the offsite tree.
	DryRun bool
	// Confirm, if set, sees the pre-flighted plan before anything changes. Returning
	// false ends the run without applying.
	Confirm func(plan *offsync.ApplyPlan) bool
	Hooks   offsync.Hooks
}

// ApplyResult is the outcome of the apply stage. Report is nil for a dry run.
type ApplyResult struct {
	Plan   *offsync.ApplyPlan
	Report *offsync.Report
}

func (a *OffsyncApp) applyRoots(overrides map[string]string) map[string]string {
	roots := make(map[string]string)
	for tag, path := range a.cfg.Apply.Roots {
		roots[tag] = path
	}
	for tag, path := range overrides {
		roots[tag] = path
	}
	return roots
}

// Apply pre-flights a patch and, unless DryRun is set, applies it to the offsite roots.
func (a *OffsyncApp) Apply(ctx context.Context, req ApplyRequest) (res *ApplyResult, err error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	defer func() {
		if res != nil {
			a.op.Finish(res.Report, err)
		} else {
			a.op.Finish(nil, err)
		}
	}()

	retry, err := a.retryPolicy()
	if err != nil {
		return nil, err
	}
	encryptor, err := encryption.NewEncryptorFromConfig(a.fs, a.cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	deleter, err := fs.NewDeleterFromConfig(a.fs, a.cfg.Apply, a.clock, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating deleter: %w", err)
	}

	applier := offsync.NewPatchApplier(a.fs, a.transfer, deleter, encryptor, a.store, a.logger, offsync.ApplyOptions{
		PatchDir:       req.PatchDir,
		Passphrase:     req.Passphrase,
		Roots:          a.applyRoots(req.Roots),
		VerifyPayloads: a.cfg.Patch.VerifyPayloads,
		Workers:        a.cfg.Workers,
		Retry:          retry,
		Hooks:          req.Hooks,
	})
	plan, err := applier.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing patch: %w", err)
	}
	res = &ApplyResult{Plan: plan}
	if req.DryRun {
		return res, nil
	}
	if req.Confirm != nil && !req.Confirm(plan) {
		a.logger.Info("apply declined", "patch", req.PatchDir)
		return res, nil
	}

	res.Report, err = applier.Execute(ctx, plan)
	if err != nil {
		return res, fmt.Errorf("applying patch: %w", err)
	}
	return res, nil
}

// PruneCandidates lists offsite directories that are gone locally and hold no files.
// Nothing is deleted.
// A failure finishes the run; on success the run stays open for Prune.
func (a *OffsyncApp) PruneCandidates(ctx context.Context, patchDir string, roots map[string]string) (candidates []offsync.PruneCandidate, err error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			a.op.Finish(nil, err)
		}
	}()

	m, err := a.store.ReadManifest(patchDir)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	resolved := m.RootPaths()
	for tag, path := range a.applyRoots(roots) {
		abs, err := absPath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", tag, err)
		}
		resolved[tag] = abs
	}

	candidates, err = a.pruner(nil).Analyze(ctx, m, resolved)
	if err != nil {
		return nil, fmt.Errorf("finding empty directories: %w", err)
	}
	return candidates, nil
}

// Prune deletes the given directories with the configured delete policy and returns
// how many were removed.
func (a *OffsyncApp) Prune(ctx context.Context, candidates []offsync.PruneCandidate) (int, error) {
	if err := a.persistOperation(); err != nil {
		return 0, err
	}
	deleter, err := fs.NewDeleterFromConfig(a.fs, a.cfg.Apply, a.clock, a.logger)
	if err != nil {
		err = fmt.Errorf("creating deleter: %w", err)
		a.op.Finish(nil, err)
		return 0, err
	}
	n, err := a.pruner(deleter).DeleteDirectories(ctx, candidates)
	a.op.Finish(&offsync.Report{Total: len(candidates), Completed: n, Errored: len(candidates) - n}, err)
	return n, err
}

func (a *OffsyncApp) pruner(deleter offsync.Deleter) *offsync.EmptyDirPruner {
	return offsync.NewEmptyDirPruner(a.fs, deleter, a.logger, a.cfg.Apply.IgnorableFiles)
}

// GetHistory returns the most recent runs.
func (a *OffsyncApp) GetHistory(limit int) ([]*offsync.Run, error) {
	return a.history.ListRuns(limit)
}

// GetRunIssues returns the warnings and errors recorded for a run.
func (a *OffsyncApp) GetRunIssues(runID string) ([]offsync.Issue, error) {
	return a.history.RunIssues(runID)
}

// Close finalizes the operation and closes all resources.
func (a *OffsyncApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.history.FinishRun(a.op.run, a.op.Status, a.clock.Now(), a.op.Report); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}
	if err := a.history.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
