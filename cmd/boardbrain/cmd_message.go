// Package main: the message command runs one technician message through
// the full intake pipeline.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"boardbrain/internal/session"
)

var (
	messageCase  string
	messageBoard string
)

// messageCmd handles a single chat message for a case.
var messageCmd = &cobra.Command{
	Use:   "message <text>",
	Short: "Process one technician message for a case",
	Long: `Run a message through classification, the net guardrail, and plan
synchronization, exactly as the chat surface does.

Measurements with a real net are stored and may trigger a plan update.
Unknown or ambiguous net names are refused with suggestions and nothing is
stored. Slash commands (/measure, /note, /update, /done, /probe) work here
too.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMessage,
}

func init() {
	messageCmd.Flags().StringVar(&messageCase, "case", "default", "repair case id")
	messageCmd.Flags().StringVar(&messageBoard, "board", "", "board id (required)")
	_ = messageCmd.MarkFlagRequired("board")
}

func runMessage(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Close()

	text := strings.Join(args, " ")
	reply, err := eng.handler.HandleMessage(cmd.Context(), messageCase, messageBoard, text)
	if err != nil {
		return err
	}
	printReply(reply)
	return nil
}

func printReply(reply session.Reply) {
	if reply.Classification != "" {
		fmt.Printf("classification: %s\n", reply.Classification)
	}
	for _, r := range reply.Stored {
		line := fmt.Sprintf("stored: %s %s", r.Net, r.Value)
		if r.Unit != "" {
			line += " " + r.Unit
		}
		fmt.Printf("%s (%s)\n", line, r.Type)
	}
	for _, ref := range reply.Refusals {
		if ref.Reason == "ambiguous" {
			names := make([]string, len(ref.Suggestions))
			for i, s := range ref.Suggestions {
				names[i] = fmt.Sprintf("%s (%.2f)", s.Net, s.Score)
			}
			fmt.Printf("refused: %q is ambiguous. Did you mean: %s?\n", ref.Token, strings.Join(names, ", "))
		} else {
			fmt.Printf("refused: %q is not in the loaded netlist; nothing was stored\n", ref.Token)
		}
	}
	for _, rej := range reply.Rejected {
		fmt.Printf("ignored: %q (%s)\n", rej.Segment, rej.Reason)
	}
	for _, p := range reply.Prose {
		fmt.Printf("forwarded: %s\n", p)
	}
	for _, n := range reply.Notes {
		fmt.Printf("noted: %s\n", n)
	}
	if len(reply.ProbePoints) > 0 {
		fmt.Printf("probe here: %s\n", strings.Join(reply.ProbePoints, ", "))
	} else if reply.ProbeGeneric {
		fmt.Println("no confirmed probe points for that net; follow large copper or nearby caps")
	}
	if reply.MarkedDone > 0 {
		fmt.Printf("marked done: %d requested measurements\n", reply.MarkedDone)
	}
	switch {
	case reply.PlanUpdated:
		fmt.Printf("plan updated to version %d\n", reply.PlanVersion)
	case reply.PlanRetry:
		fmt.Println("plan unchanged: the collaborator did not produce a usable plan, try /update again")
	}
}
