// Package main: plan inspection.
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"boardbrain/internal/plan"
)

var planCase string

// planCmd shows a case's current plan and requested measurements.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the current plan for a case",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planCase, "case", "default", "repair case id")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ps, err := plan.Open(cfg.CaseDBPath(), logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	row, err := ps.Latest(planCase)
	if errors.Is(err, plan.ErrNoPlan) {
		fmt.Printf("case %s has no plan yet; send a measurement or /update\n", planCase)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("plan version %d (%s)\n\n", row.Version, row.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Println(row.Body)

	items, err := ps.Requested(planCase)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	fmt.Println("\nrequested measurements:")
	for _, it := range items {
		mark := " "
		if it.Status == plan.StatusDone {
			mark = "x"
		}
		fmt.Printf("  [%s] %-28s %s  %s\n", mark, it.Key, it.Net, it.Prompt)
	}
	return nil
}
