package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/kmeansbirch/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage recorded runs",
	Long: `Manage run records written to --runs-dir, including listing and cleaning
old runs. Each record holds the device, input source, outputs and a stage journal.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run record and its stage journal",
	Long: `Show one run record followed by the stages it went through. The run ID
may be abbreviated to any unique prefix, as printed by 'runs list'.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowRun,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old run records",
	Long: `Delete run records based on retention policy.
You can keep only the newest N runs or delete runs older than N days.`,
	Args: cobra.NoArgs,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openRunStore(cmd *cobra.Command) (*store.FSStore, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.RunsDir == "" {
		return nil, fmt.Errorf("no runs directory configured, set --runs-dir or runs_dir")
	}
	runStore, err := store.NewFSStore(cfg.RunsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return runStore, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore(cmd)
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tSTATUS\tDEVICE\tDURATION\tOUTPUTS\tSIZE")
	fmt.Fprintln(w, "------\t-------\t------\t------\t--------\t-------\t----")

	for _, info := range infos {
		size, err := getDirSize(runStore.RunDir(info.ID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(info.ID),
			info.StartedAt.Format("2006-01-02 15:04:05"),
			info.Status,
			info.Device,
			info.Duration.Round(time.Millisecond),
			info.Outputs,
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runStore, err := openRunStore(cmd)
	if err != nil {
		return err
	}

	rec, err := findRun(runStore, args[0])
	if err != nil {
		return err
	}

	var entries []store.StageEntry
	jr, err := store.NewJournalReader(runStore.BaseDir(), rec.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		entries, err = jr.ReadAll()
		jr.Close()
		if err != nil {
			return fmt.Errorf("failed to read stage journal: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", rec.ID)
	fmt.Fprintf(w, "Status:\t%s\n", rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", rec.Error)
	}
	fmt.Fprintf(w, "Started:\t%s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration:\t%s\n", rec.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Backend:\t%s\n", rec.Backend)
	fmt.Fprintf(w, "Device:\t%s (%s)\n", rec.Device, rec.Platform)
	fmt.Fprintf(w, "Binary:\t%s\n", rec.Binary)
	fmt.Fprintf(w, "Kernel:\t%s\n", rec.Kernel)
	fmt.Fprintf(w, "Geometry:\t%dx%dx%d\n", rec.Height, rec.Width, rec.Dim)
	input := rec.InputSource
	if rec.InputSynthetic {
		input += " (synthetic)"
	}
	fmt.Fprintf(w, "Input:\t%s\n", input)
	for _, o := range rec.Outputs {
		status := "ok"
		if o.Error != "" {
			status = o.Error
		}
		fmt.Fprintf(w, "Output %s:\t%s\t%s\n", o.Name, o.Path, status)
	}
	w.Flush()

	if len(entries) == 0 {
		fmt.Fprintln(out, "\nNo stage journal.")
		return nil
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tDURATION\tERROR")
	fmt.Fprintln(w, "-----\t--------\t-----")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Stage, e.Duration, e.Error)
	}
	w.Flush()
	return nil
}

// findRun loads a run by full ID or by a unique ID prefix.
func findRun(s store.Store, id string) (*store.RunRecord, error) {
	id = strings.TrimSuffix(id, "...")
	rec, err := s.LoadRun(id)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return rec, err
	}

	infos, err := s.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var matches []string
	for _, info := range infos {
		if strings.HasPrefix(info.ID, id) {
			matches = append(matches, info.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &store.NotFoundError{RunID: id}
	case 1:
		return s.LoadRun(matches[0])
	default:
		return nil, fmt.Errorf("run ID prefix %q is ambiguous (%d matches)", id, len(matches))
	}
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, err := openRunStore(cmd)
	if err != nil {
		return err
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n",
			shortID(info.ID),
			info.Status,
			info.StartedAt.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean && !confirm(cmd, "\nProceed with deletion? [y/N]: ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := runStore.DeleteRun(info.ID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.ID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "run_id", info.ID)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// selectRunsForDeletion applies the retention policy: runs started before
// now minus olderThanDays, plus everything but the newest keepLast runs.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, now time.Time) []store.RunInfo {
	var toDelete []store.RunInfo
	marked := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.StartedAt.Before(cutoff) {
				toDelete = append(toDelete, info)
				marked[info.ID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.RunInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].StartedAt.Before(sorted[j].StartedAt)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !marked[info.ID] {
				toDelete = append(toDelete, info)
				marked[info.ID] = true
			}
		}
	}

	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
