// Package runtime provides runtime library linking for instrumented code.
//
// This package handles injecting the borrow tracking runtime into
// instrumented Go programs. It provides mechanisms to ensure the runtime
// is linked and resolvable from the temporary build workspace.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// RuntimePackagePath returns the import path for the borrow tracking runtime.
//
// This is the package that instrumented code imports to access TrackNew,
// TrackBorrow, TrackMove, TrackDrop and the other tracking functions.
//
// Uses the public API wrapper instead of an internal package so that
// instrumented code built outside this repository can import it.
//
// Returns: "github.com/kolkov/borrowtrace/borrow"
func RuntimePackagePath() string {
	return "github.com/kolkov/borrowtrace/borrow"
}

// EnsureRequire adds a require directive for the borrowtrace module to a
// go.mod file if one is not already present.
//
// The transformer injects imports of the runtime package into
// instrumented files; the enclosing module must require borrowtrace for
// those imports to resolve.
//
// The build command does not need this: it writes instrumented code into
// a temporary workspace whose go.mod comes from ModFileOverlay. This
// helper is for callers that instrument files in place inside their own
// module and must patch that module's go.mod instead.
//
// Parameters:
//   - goModPath: Path to the go.mod file to update
//
// Returns:
//   - true if the file was modified
//   - Error if the file cannot be read, parsed, or written
func EnsureRequire(goModPath string) (bool, error) {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", goModPath, err)
	}

	mf, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", goModPath, err)
	}

	const module = "github.com/kolkov/borrowtrace"
	for _, req := range mf.Require {
		if req.Mod.Path == module {
			return false, nil
		}
	}

	if err := mf.AddRequire(module, "v0.1.0"); err != nil {
		return false, fmt.Errorf("failed to add require directive: %w", err)
	}

	out, err := mf.Format()
	if err != nil {
		return false, fmt.Errorf("failed to format %s: %w", goModPath, err)
	}
	if err := os.WriteFile(goModPath, out, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", goModPath, err)
	}
	return true, nil
}

// ModFileOverlay creates a go.mod for the temporary build workspace.
//
// Instrumented code is built in a temporary directory; its go.mod must
// resolve the borrowtrace runtime. When running from a source checkout,
// a replace directive points the require at the checkout. Replace
// directives from the original project's go.mod are preserved, with
// relative paths converted to absolute paths (the temp directory has a
// different working directory).
//
// Parameters:
//   - tempDir: Temporary directory where instrumented code is being built
//   - sourceDir: Directory of the source being instrumented (to find the original go.mod)
//
// Returns:
//   - Path to the written go.mod
//   - Error if the file cannot be written
func ModFileOverlay(tempDir, sourceDir string) (string, error) {
	var content strings.Builder
	content.WriteString("module instrumented\n\n")
	content.WriteString("go 1.21\n\n")
	content.WriteString("require github.com/kolkov/borrowtrace v0.1.0\n")

	if root, err := findProjectRoot(); err == nil {
		content.WriteString(fmt.Sprintf("\nreplace github.com/kolkov/borrowtrace => %s\n", root))
	}

	if sourceDir != "" {
		if original := findOriginalGoMod(sourceDir); original != "" {
			if directives := extractReplaceDirectives(original); directives != "" {
				content.WriteString("\n")
				content.WriteString(directives)
			}
		}
	}

	path := filepath.Join(tempDir, "go.mod")
	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to create workspace go.mod: %w", err)
	}
	return path, nil
}

// findProjectRoot finds the root directory of a borrowtrace source checkout.
//
// This walks up the directory tree from the current working directory
// looking for the runtime package marker (borrow/api.go). We don't just
// look for any go.mod because that would match the user's project.
//
// Returns:
//   - Checkout root path
//   - Error if no checkout is found
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		marker := filepath.Join(dir, "borrow", "api.go")
		if _, err := os.Stat(marker); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// Not found by walking up; the tool binary may live in the checkout.
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		for _, candidate := range []string{exeDir, filepath.Dir(exeDir)} {
			marker := filepath.Join(candidate, "borrow", "api.go")
			if _, err := os.Stat(marker); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("could not find borrowtrace checkout root")
}

// findOriginalGoMod finds the go.mod of the project being instrumented.
//
// Walks up from startDir looking for a go.mod file. This is distinct from
// findProjectRoot, which finds borrowtrace's own root.
//
// Returns the go.mod path, or empty string if none is found.
func findOriginalGoMod(startDir string) string {
	dir := startDir
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// extractReplaceDirectives reads a go.mod file and extracts its replace
// directives, converting relative filesystem paths to absolute paths.
func extractReplaceDirectives(goModPath string) string {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return ""
	}
	mf, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return ""
	}
	if len(mf.Replace) == 0 {
		return ""
	}

	goModDir := filepath.Dir(goModPath)
	var out strings.Builder
	for _, rep := range mf.Replace {
		newPath := rep.New.Path
		if rep.New.Version == "" && isLocalPath(newPath) && !filepath.IsAbs(newPath) {
			if abs, err := filepath.Abs(filepath.Join(goModDir, newPath)); err == nil {
				newPath = abs
			}
		}

		switch {
		case rep.Old.Version != "" && rep.New.Version != "":
			fmt.Fprintf(&out, "replace %s %s => %s %s\n", rep.Old.Path, rep.Old.Version, newPath, rep.New.Version)
		case rep.Old.Version != "":
			fmt.Fprintf(&out, "replace %s %s => %s\n", rep.Old.Path, rep.Old.Version, newPath)
		case rep.New.Version != "":
			fmt.Fprintf(&out, "replace %s => %s %s\n", rep.Old.Path, newPath, rep.New.Version)
		default:
			fmt.Fprintf(&out, "replace %s => %s\n", rep.Old.Path, newPath)
		}
	}
	return out.String()
}

// isLocalPath checks if a path is a local filesystem path rather than a
// module path.
//
// Local paths start with ./, ../, /, or a drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return false
}
