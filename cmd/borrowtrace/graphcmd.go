// graphcmd.go implements the 'borrowtrace graph' command.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/borrowtrace/internal/borrow/event"
	"github.com/kolkov/borrowtrace/internal/borrow/graph"
)

var graphFlags struct {
	output string
}

var graphCmd = &cobra.Command{
	Use:   "graph <events.json>",
	Short: "Export the ownership graph of a recorded event snapshot",
	Long: `Builds the ownership graph from a recorded event snapshot and writes
it as JSON: variables with their lifetimes, and borrow, move, clone, and
interior-borrow edges with their validity intervals. Two identical event
streams always yield byte-identical output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphFlags.output, "output", "o", "", "write graph JSON to file instead of stdout")
}

func runGraph(stdout io.Writer, path string) error {
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
		return err
	}

	out := stdout
	if graphFlags.output != "" {
		dst, err := os.Create(graphFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", graphFlags.output, err)
		}
		defer dst.Close()
		out = dst
	}
	return g.Export().WriteJSON(out)
}
