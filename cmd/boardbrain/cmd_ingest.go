// Package main: ingest commands build or refresh the per-board truth cache
// from boardview files and KB text.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"boardbrain/internal/truth"
)

var (
	ingestKBDir string
)

// ingestCmd ingests one board from a boardview file, or a whole directory.
var ingestCmd = &cobra.Command{
	Use:   "ingest <boardview-file-or-dir>",
	Short: "Build the truth cache from boardview files",
	Long: `Parse boardview files into the per-board truth cache.

Given a file, the board id is the file name without its extension. Given a
directory, every file in it is ingested as one board, concurrently. KB text
files from --kb-dir are used as a fallback net source for boards whose
boardview data is absent or unparseable.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKBDir, "kb-dir", "", "directory of KB text files for fallback extraction")
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, err := openTruth()
	if err != nil {
		return err
	}
	defer st.Close()
	ing := truth.NewIngestor(st, logger)

	kbTexts, err := loadKBTexts(ingestKBDir)
	if err != nil {
		return err
	}

	info, err := os.Stat(args[0])
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", args[0], err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read boardview file: %w", err)
		}
		rep := ing.IngestBoard(cmd.Context(), boardIDFromPath(args[0]), truth.BoardInput{
			BoardviewData: data,
			KBTexts:       kbTexts,
		})
		printReport(rep)
		return rep.Err
	}

	entries, err := os.ReadDir(args[0])
	if err != nil {
		return fmt.Errorf("failed to read boardview directory: %w", err)
	}
	inputs := map[string]truth.BoardInput{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(args[0], e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		inputs[boardIDFromPath(e.Name())] = truth.BoardInput{
			BoardviewData: data,
			KBTexts:       kbTexts,
		}
	}

	reports := ing.IngestBatch(cmd.Context(), inputs)
	failed := 0
	for _, rep := range reports {
		printReport(rep)
		if rep.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d boards failed to ingest", failed, len(reports))
	}
	return nil
}

func loadKBTexts(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read KB directory: %w", err)
	}
	var texts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read KB file %s: %w", e.Name(), err)
		}
		texts = append(texts, string(data))
	}
	return texts, nil
}

func boardIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func printReport(rep truth.Report) {
	if rep.Err != nil {
		fmt.Printf("  %-20s FAILED: %v\n", rep.BoardID, rep.Err)
		return
	}
	switch rep.Source {
	case truth.SourceBoardview:
		fmt.Printf("  %-20s %s (%s): %d nets, %d components\n",
			rep.BoardID, rep.Source, rep.Format, rep.NetCount, rep.ComponentCount)
	case truth.SourceKBFallback:
		fmt.Printf("  %-20s %s: %d nets (not schematic-confirmed)\n",
			rep.BoardID, rep.Source, rep.NetCount)
	default:
		fmt.Printf("  %-20s no net data found\n", rep.BoardID)
	}
}
