// Package main: the watch command keeps the truth cache in sync with a
// boardview drop directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"boardbrain/internal/truth"
)

var watchKBDir string

// Writes from boardview exports arrive in bursts; wait for the file to
// settle before re-ingesting.
const watchSettle = 500 * time.Millisecond

// watchCmd re-ingests boardview files as they land in the drop directory.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the boardview drop directory and re-ingest on change",
	Long: `Watch the configured drop directory (boardview.drop_dir) and rebuild a
board's truth cache whenever its file is created or rewritten. The board id
is the file name without its extension. A file that stops parsing does not
clear the board's existing cache.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchKBDir, "kb-dir", "", "directory of KB text files for fallback extraction")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := cfg.Boardview.DropDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create drop directory: %w", err)
	}

	st, err := openTruth()
	if err != nil {
		return err
	}
	defer st.Close()
	ing := truth.NewIngestor(st, logger)

	kbTexts, err := loadKBTexts(watchKBDir)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("watching drop directory", zap.String("dir", dir))
	fmt.Printf("watching %s (ctrl-c to stop)\n", dir)

	pending := map[string]*time.Timer{}
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()
	ingested := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil

		case path := <-ingested:
			delete(pending, path)
			ingestDropped(ctx, ing, path, kbTexts)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Reset(watchSettle)
				continue
			}
			pending[path] = time.AfterFunc(watchSettle, func() {
				select {
				case ingested <- path:
				case <-ctx.Done():
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}

func ingestDropped(ctx context.Context, ing *truth.Ingestor, path string, kbTexts []string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read dropped file", zap.String("path", path), zap.Error(err))
		return
	}
	boardID := boardIDFromPath(filepath.Base(path))
	rep := ing.IngestBoard(ctx, boardID, truth.BoardInput{
		BoardviewData: data,
		KBTexts:       kbTexts,
	})
	printReport(rep)
}
