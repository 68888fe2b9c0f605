package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/converge/internal/report"
	"github.com/steveyegge/converge/internal/storage/factory"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "views",
	Short:   "List reviews in progress",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := openStore().List(rootCtx)
		if err != nil {
			FatalError("listing reviews: %v", err)
		}
		if jsonOutput {
			outputJSON(entries)
			return
		}
		fmt.Print(report.Records(entries))
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "views",
	Short:   "Re-render the review list whenever review state changes",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		projectDir := requireProjectDir()
		s := openStore()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			FatalError("creating watcher: %v", err)
		}
		defer func() { _ = watcher.Close() }() // Best effort cleanup

		for _, dir := range []string{projectDir, filepath.Join(projectDir, factory.StateDirName)} {
			if _, err := os.Stat(dir); err != nil {
				continue
			}
			if err := watcher.Add(dir); err != nil {
				FatalError("watching %s: %v", dir, err)
			}
		}

		render := func() {
			entries, err := s.List(rootCtx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error refreshing reviews: %v\n", err)
				return
			}
			fmt.Print("\033[H\033[2J")
			fmt.Print(report.Records(entries))
			fmt.Fprintf(os.Stderr, "\nWatching for changes... (Press Ctrl+C to exit)\n")
		}
		render()

		var debounceTimer *time.Timer
		debounceDelay := 500 * time.Millisecond

		for {
			select {
			case <-rootCtx.Done():
				fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isStateFile(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, render)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)
			}
		}
	},
}

// isStateFile matches record files and the sqlite database, not lock files
// or the event log.
func isStateFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") || strings.HasPrefix(base, factory.SQLiteFileName)
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
}
