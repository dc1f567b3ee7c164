// Package main: probe guidance from the truth cache.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"boardbrain/internal/probe"
	"boardbrain/internal/resolver"
	"boardbrain/internal/truth"
)

var (
	probeBoard string
	probeLimit int
)

// probeCmd ranks physical probe points for a net.
var probeCmd = &cobra.Command{
	Use:   "probe <net>",
	Short: "Rank probe points for a net on a board",
	Long: `Resolve a net name through the guardrail and list the best physical
probe points: test pads first, then connector pins, caps, inductors.

When the board's truth source is KB fallback, candidates come from repair
notes rather than a boardview file and are labeled accordingly.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeBoard, "board", "", "board id (required)")
	probeCmd.Flags().IntVar(&probeLimit, "limit", probe.DefaultLimit, "maximum probe points to list")
	_ = probeCmd.MarkFlagRequired("board")
}

func runProbe(cmd *cobra.Command, args []string) error {
	st, err := openTruth()
	if err != nil {
		return err
	}
	defer st.Close()

	res := resolver.New(st, cfg.Resolver, logger)
	resolution, err := res.Resolve(probeBoard, args[0])
	if err != nil {
		return err
	}
	if resolution.Rule != resolver.RuleExact {
		fmt.Printf("resolved %q to %s (%s)\n", args[0], resolution.Net, resolution.Rule)
	}

	cands, err := st.RefdesCandidates(probeBoard, resolution.Net)
	if err != nil {
		return err
	}
	comps, err := st.Components(probeBoard)
	if err != nil {
		return err
	}
	points := probe.Rank(cands, comps, probeLimit)
	if len(points) == 0 {
		fmt.Println("no probe points on record for that net")
		return nil
	}

	source, err := st.Source(probeBoard)
	if err != nil {
		return err
	}
	fmt.Printf("probe points for %s:\n", resolution.Net)
	for i, p := range points {
		fmt.Printf("  %d. %s\n", i+1, p)
	}
	if source != truth.SourceBoardview {
		fmt.Println("note: candidates come from repair notes, not a boardview file")
	}
	return nil
}
