package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"offsync-go/internal/app"
	"offsync-go/internal/config"
	"offsync-go/internal/offsync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an OffsyncApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "diff", "apply").
func newApp(operation string) (*app.OffsyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewOffsyncApp(cfg, operation, strings.Join(os.Args[1:], " "))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "offsync",
	Short:        "Synchronize a directory tree with an offline offsite copy",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [ROOT...]",
	Short: "Record the offsite tree",
	Long:  "Walks the offsite roots (snapshot.roots when none are given) and writes their metadata to a snapshot file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp("snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Snapshot(cmd.Context(), args, output)
		if err != nil {
			return err
		}

		var total int64
		for _, f := range snap.Files {
			total += f.Size
		}
		for _, r := range snap.Roots {
			fmt.Printf("%-20s %s\n", r.Tag, r.Path)
		}
		fmt.Printf("Recorded %d file(s), %s\n", len(snap.Files), humanize.Bytes(uint64(total)))
		return nil
	},
}

// match command
var matchCmd = &cobra.Command{
	Use:   "match [SEARCH_DIR...]",
	Short: "Propose local directories for the roots of a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotPath, _ := cmd.Flags().GetString("snapshot")
		roots, _ := cmd.Flags().GetStringToString("root")

		a, err := newApp("match")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.LoadSnapshot(snapshotPath)
		if err != nil {
			return err
		}
		mapped := make(map[string]string)
		for _, m := range a.Mappings(snap, roots, args) {
			mapped[m.Tag] = m.Local
		}
		missing := 0
		for _, tag := range snap.Tags() {
			local := mapped[tag]
			if local == "" {
				local = "(no match)"
				missing++
			}
			fmt.Printf("%-20s %s\n", tag, local)
		}
		if missing > 0 {
			return fmt.Errorf("%w: %d root(s) without a local directory", offsync.ErrIncompleteMapping, missing)
		}
		return nil
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare the local tree with a snapshot and stage a patch",
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotPath, _ := cmd.Flags().GetString("snapshot")
		patchDir, _ := cmd.Flags().GetString("patch")
		roots, _ := cmd.Flags().GetStringToString("root")
		searchDirs, _ := cmd.Flags().GetStringSlice("search")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asTree, _ := cmd.Flags().GetBool("tree")

		a, err := newApp("diff")
		if err != nil {
			return err
		}
		defer a.Close()

		req := app.DiffRequest{
			SnapshotPath: snapshotPath,
			PatchDir:     patchDir,
			Roots:        roots,
			SearchDirs:   searchDirs,
			DryRun:       dryRun,
		}
		if a.Config().Patch.Encrypt && !dryRun {
			if req.Passphrase, err = readPassphrase(true); err != nil {
				return err
			}
		}

		progress := newProgressPrinter()
		req.Hooks = progress.hooks()
		start := time.Now()
		res, err := a.Diff(cmd.Context(), req)
		progress.done()
		if res != nil {
			m := res.Manifest
			printRecords(os.Stdout, m.Records, asTree)
			fmt.Printf("%d add, %d modify, %d move, %d delete; %s to stage\n",
				m.Count(offsync.UpdateAdd), m.Count(offsync.UpdateModify), m.Count(offsync.UpdateMove),
				m.Count(offsync.UpdateDelete), humanize.Bytes(uint64(payloadBytes(m.Records))))
			if res.Report != nil {
				printReport(os.Stdout, res.Report)
				fmt.Printf("Patch written in %s\n", time.Since(start).Truncate(time.Millisecond))
			}
		}
		if err != nil {
			return err
		}
		if res.Report != nil && res.Report.HasErrors() {
			return errors.New("some payloads could not be staged")
		}
		return nil
	},
}

// apply command
var applyCmd = &cobra.Command{
	Use:   "apply PATCH_DIR",
	Short: "Apply a patch to the offsite tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roots, _ := cmd.Flags().GetStringToString("root")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")
		asTree, _ := cmd.Flags().GetBool("tree")

		a, err := newApp("apply")
		if err != nil {
			return err
		}
		defer a.Close()

		req := app.ApplyRequest{PatchDir: args[0], Roots: roots, DryRun: dryRun}
		encrypted, err := a.PatchEncrypted(args[0])
		if err != nil {
			return err
		}
		if encrypted {
			if req.Passphrase, err = readPassphrase(false); err != nil {
				return err
			}
		}

		// The plan is shown once pre-flight has run and before anything changes.
		progress := newProgressPrinter()
		req.Hooks = progress.hooks()
		req.Confirm = func(plan *offsync.ApplyPlan) bool {
			printRecords(os.Stdout, plan.Records(), asTree)
			if !yes && !confirm("Apply these changes?") {
				fmt.Println("Aborted.")
				return false
			}
			return true
		}
		res, err := a.Apply(cmd.Context(), req)
		progress.done()
		if res != nil && res.Report != nil {
			printReport(os.Stdout, res.Report)
		}
		if err != nil {
			return err
		}
		if dryRun {
			printRecords(os.Stdout, res.Plan.Records(), asTree)
			return nil
		}
		if res.Report != nil && res.Report.HasErrors() {
			return errors.New("some records could not be applied")
		}
		return nil
	},
}

// prune command
var pruneCmd = &cobra.Command{
	Use:   "prune PATCH_DIR",
	Short: "Delete offsite directories that no longer exist locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roots, _ := cmd.Flags().GetStringToString("root")
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp("prune")
		if err != nil {
			return err
		}
		defer a.Close()

		candidates, err := a.PruneCandidates(cmd.Context(), args[0], roots)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("No empty directories.")
			return nil
		}

		trees := make(map[string]*pathTree)
		var order []string
		for _, c := range candidates {
			t, ok := trees[c.Root.Tag]
			if !ok {
				t = newPathTree(c.Root.Tag + " (" + c.Root.Path + ")")
				trees[c.Root.Tag] = t
				order = append(order, c.Root.Tag)
			}
			t.Insert(c.RelativePath, "- ")
		}
		for _, tag := range order {
			fmt.Print(trees[tag].String())
		}

		if !yes && !confirm(fmt.Sprintf("Delete %d director(ies)?", len(candidates))) {
			fmt.Println("Aborted.")
			return nil
		}
		n, err := a.Prune(cmd.Context(), candidates)
		fmt.Printf("Deleted %d of %d director(ies)\n", n, len(candidates))
		return err
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "View past runs, or the issues of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			issues, err := a.GetRunIssues(args[0])
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Println("No issues recorded.")
				return nil
			}
			for _, is := range issues {
				fmt.Printf("%-7s %-6s %s/%s: %s\n", is.Status, is.UpdateType, is.TopDirectory, is.RelativePath, is.Message)
			}
			return nil
		}

		runs, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-8s  %s  %-7s  %4d ok  %3d warn  %3d err  %8s  %s\n",
				r.RunID,
				r.Operation,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.Completed,
				r.Warned,
				r.Errored,
				humanize.Bytes(uint64(r.Bytes)),
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	snapshotCmd.Flags().StringP("output", "o", "", "Snapshot file to write (default snapshot.output)")

	matchCmd.Flags().StringP("snapshot", "s", "", "Snapshot file")
	matchCmd.Flags().StringToString("root", nil, "Explicit mapping TAG=LOCAL_DIR")
	matchCmd.MarkFlagRequired("snapshot")

	diffCmd.Flags().StringP("snapshot", "s", "", "Snapshot file")
	diffCmd.Flags().StringP("patch", "p", "", "Patch directory to write (default patch.dir)")
	diffCmd.Flags().StringToString("root", nil, "Explicit mapping TAG=LOCAL_DIR")
	diffCmd.Flags().StringSlice("search", nil, "Directories to search for roots by name")
	diffCmd.Flags().Bool("dry-run", false, "List changes without staging a patch")
	diffCmd.Flags().Bool("tree", false, "Show changes as a tree")
	diffCmd.MarkFlagRequired("snapshot")

	applyCmd.Flags().StringToString("root", nil, "Override offsite root TAG=OFFSITE_DIR")
	applyCmd.Flags().Bool("dry-run", false, "Pre-flight the patch without changing anything")
	applyCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	applyCmd.Flags().Bool("tree", false, "Show changes as a tree")

	pruneCmd.Flags().StringToString("root", nil, "Override offsite root TAG=OFFSITE_DIR")
	pruneCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(historyCmd)
}
