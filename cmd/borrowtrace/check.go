// check.go implements the 'borrowtrace check' command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kolkov/borrowtrace/internal/borrow/conflict"
	"github.com/kolkov/borrowtrace/internal/borrow/event"
	"github.com/kolkov/borrowtrace/internal/borrow/graph"
)

var checkFlags struct {
	noColor bool
}

var checkCmd = &cobra.Command{
	Use:   "check <events.json>",
	Short: "Report borrow conflicts in a recorded event snapshot",
	Long: `Builds the ownership graph from a recorded event snapshot and reports
every borrow conflict: overlapping exclusive borrows of one variable, or
an exclusive borrow overlapping shared ones. Touching intervals (one
borrow ending exactly where another starts) are legal.

Exit status is 1 when conflicts are found, 2 when the recording itself
violates the event protocol.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkFlags.noColor, "no-color", false, "disable colored output")
}

func runCheck(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	events, err := event.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}

	g, err := graph.Build(events)
	if err != nil {
		var pv *graph.ProtocolViolation
		if errors.As(err, &pv) {
			printProtocolViolation(out, pv)
			os.Exit(2)
		}
		return err
	}

	conflicts := conflict.Find(g)
	printReport(out, g, conflicts)
	if len(conflicts) > 0 {
		os.Exit(1)
	}
	return nil
}

func printProtocolViolation(out io.Writer, pv *graph.ProtocolViolation) {
	red := color.New(color.FgRed, color.Bold)
	if checkFlags.noColor {
		red.DisableColor()
	}
	red.Fprintln(out, "PROTOCOL VIOLATION")
	fmt.Fprintf(out, "  %s\n", pv.Error())
	fmt.Fprintln(out, "  The recording is inconsistent; no conflict analysis was run.")
}

// printReport renders the conflict report. Layout: one block per
// conflict with the owner, the borrowers, and the overlapping time
// range, followed by a summary line.
func printReport(out io.Writer, g *graph.Graph, conflicts []conflict.Conflict) {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen, color.Bold)
	if checkFlags.noColor {
		red.DisableColor()
		yellow.DisableColor()
		green.DisableColor()
	}

	for i := range conflicts {
		c := &conflicts[i]
		red.Fprintf(out, "CONFLICT %d: %s\n", i+1, c.Kind)
		fmt.Fprintf(out, "  owner:     %s\n", describeNode(g, c.OwnerID))
		for _, b := range c.BorrowerIDs {
			fmt.Fprintf(out, "  borrower:  %s\n", describeNode(g, b))
		}
		fmt.Fprintf(out, "  overlap:   [%d, %d)\n", c.Start, c.End)
		fmt.Fprintln(out)
	}

	if g.UnresolvedReferences > 0 {
		yellow.Fprintf(out, "warning: %d unresolved reference(s) in the recording\n", g.UnresolvedReferences)
	}

	switch len(conflicts) {
	case 0:
		green.Fprintf(out, "OK: no borrow conflicts (%d variables, %d edges)\n",
			len(g.Nodes), len(g.Edges))
	case 1:
		red.Fprintln(out, "1 borrow conflict found")
	default:
		red.Fprintf(out, "%d borrow conflicts found\n", len(conflicts))
	}
}

// describeNode renders a node as `name (id, type)` with graceful output
// for ids missing from the graph.
func describeNode(g *graph.Graph, id uint64) string {
	n := g.Node(id)
	if n == nil {
		return fmt.Sprintf("unknown (id %d)", id)
	}
	if n.TypeName != "" {
		return fmt.Sprintf("%s (id %d, %s)", n.Name, n.ID, n.TypeName)
	}
	return fmt.Sprintf("%s (id %d)", n.Name, n.ID)
}
