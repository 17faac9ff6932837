// Package main implements the borrowtrace CLI tool.
//
// The borrowtrace tool records variable ownership and borrowing at run
// time without a custom Go toolchain. It works by:
//
//  1. Parsing Go source files using go/ast
//  2. Rewriting bindings, borrows, moves, and scope exits into tracking calls
//  3. Injecting the borrow tracking runtime
//  4. Building the instrumented code with the standard toolchain
//
// Usage:
//
//	borrowtrace build main.go          # Build with ownership tracking
//	borrowtrace check events.json      # Report borrow conflicts in a recording
//	borrowtrace graph events.json      # Export the ownership graph as JSON
//
// The instrumented binary records an event snapshot on exit; set
// BORROWTRACE_OUT to choose the snapshot file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "borrowtrace",
	Short: "Dynamic ownership and borrow tracking for Go programs",
	Long: `borrowtrace rewrites Go source at the AST level so that variable
lifetimes, borrows, and ownership transfers become a recorded event
stream, then analyzes recordings for borrow conflicts: overlapping
exclusive borrows of one variable, or an exclusive borrow overlapping
shared ones.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("borrowtrace version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
