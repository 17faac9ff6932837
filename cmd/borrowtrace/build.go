// build.go implements the 'borrowtrace build' command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/borrowtrace/cmd/borrowtrace/runtime"
	"github.com/kolkov/borrowtrace/cmd/borrowtrace/transform"
)

var buildFlags struct {
	output  string
	verbose bool
}

var buildCmd = &cobra.Command{
	Use:   "build [files or directories]",
	Short: "Build a Go program with ownership tracking",
	Long: `Rewrites the named source files (or the current directory) so that
bindings, borrows, moves, and scope exits emit tracking events, then
builds the rewritten sources with the standard toolchain.

Source files containing constructs the tracked dialect refuses (constant
or type declarations inside function bodies) abort the build with a
report listing every offending site.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), args)
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildFlags.output, "output", "o", "", "output binary path")
	buildCmd.Flags().BoolVarP(&buildFlags.verbose, "verbose", "v", false, "print per-file rewrite statistics")
}

// runBuild drives the build pipeline: collect sources, rewrite them into
// a temporary workspace, wire the runtime module, and invoke go build.
func runBuild(ctx context.Context, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, err := loadConfig(workDir)
	if err != nil {
		return err
	}

	sources := args
	if len(sources) == 0 {
		sources = []string{"."}
	}
	goFiles, err := collectGoFiles(sources, workDir)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}
	if len(goFiles) == 0 {
		return fmt.Errorf("no Go source files found")
	}

	ws, err := createWorkspace()
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	defer ws.cleanup()

	if err := rewriteSources(ctx, cfg, goFiles, ws); err != nil {
		return err
	}
	if err := ws.setupRuntimeLinking(workDir); err != nil {
		return err
	}
	if err := ws.build(workDir, buildFlags.output); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	if buildFlags.output != "" {
		fmt.Printf("Built successfully: %s\n", buildFlags.output)
	}
	return nil
}

// rewriteSources transforms every collected file into the workspace.
// Files are processed concurrently; the shared site allocator keeps site
// ids unique across the whole program.
func rewriteSources(ctx context.Context, cfg *toolConfig, goFiles []string, ws *buildWorkspace) error {
	sites := &transform.SiteAllocator{}

	var mu sync.Mutex
	var total transform.Stats
	var degraded []transform.Diagnostic

	g, ctx := errgroup.WithContext(ctx)
	for _, srcPath := range goFiles {
		srcPath := srcPath
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := transform.File(srcPath, nil, cfg.transformOptions(sites))
			if err != nil {
				return fmt.Errorf("failed to rewrite %s: %w", srcPath, err)
			}

			outPath := filepath.Join(ws.srcDir, filepath.Base(srcPath))
			if err := os.WriteFile(outPath, []byte(res.Code), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}

			mu.Lock()
			addStats(&total, &res.Stats)
			degraded = append(degraded, res.Degraded...)
			mu.Unlock()

			fmt.Printf("Rewrote: %s -> %s\n", srcPath, outPath)
			if buildFlags.verbose {
				fmt.Printf("  %s\n", res.Stats.String())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if buildFlags.verbose {
		for _, d := range degraded {
			fmt.Printf("note: %s\n", d.String())
		}
		fmt.Printf("Total: %d tracking calls inserted\n", total.Total())
	}
	return nil
}

func addStats(dst, src *transform.Stats) {
	dst.CreationsInserted += src.CreationsInserted
	dst.BorrowsInserted += src.BorrowsInserted
	dst.MovesInserted += src.MovesInserted
	dst.DropsInserted += src.DropsInserted
	dst.ReceiverBorrows += src.ReceiverBorrows
	dst.CapturesInserted += src.CapturesInserted
	dst.BlanksSkipped += src.BlanksSkipped
	dst.TemporariesSkipped += src.TemporariesSkipped
	dst.UnresolvedOwners += src.UnresolvedOwners
}

// buildWorkspace is a temporary directory holding rewritten sources and
// their module wiring.
type buildWorkspace struct {
	dir    string
	srcDir string
}

func createWorkspace() (*buildWorkspace, error) {
	dir, err := os.MkdirTemp("", "borrowtrace-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}
	return &buildWorkspace{dir: dir, srcDir: srcDir}, nil
}

func (w *buildWorkspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

// setupRuntimeLinking writes the workspace go.mod and resolves the
// tracking runtime module.
func (w *buildWorkspace) setupRuntimeLinking(sourceDir string) error {
	if _, err := runtime.ModFileOverlay(w.srcDir, sourceDir); err != nil {
		return err
	}

	tidy := exec.Command("go", "mod", "tidy")
	tidy.Dir = w.srcDir
	tidy.Stdout = os.Stdout
	tidy.Stderr = os.Stderr
	if err := tidy.Run(); err != nil {
		return fmt.Errorf("failed to tidy workspace go.mod: %w", err)
	}
	return nil
}

// build runs 'go build' on the rewritten sources.
func (w *buildWorkspace) build(workDir, output string) error {
	args := []string{"build"}
	if output != "" {
		if !filepath.IsAbs(output) {
			output = filepath.Join(workDir, output)
		}
		args = append(args, "-o", output)
	}
	args = append(args, ".")

	cmd := exec.Command("go", args...)
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// collectGoFiles finds all .go files from the given sources.
//
// Sources can be .go files directly, or directories scanned one level
// deep. Test files are excluded from builds.
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string
	for _, src := range sources {
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}
		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}

		if !info.IsDir() {
			if strings.HasSuffix(srcPath, ".go") {
				goFiles = append(goFiles, srcPath)
			}
			continue
		}

		entries, err := os.ReadDir(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			goFiles = append(goFiles, filepath.Join(srcPath, name))
		}
	}
	return goFiles, nil
}
