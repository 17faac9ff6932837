// config.go loads tool configuration from .borrowtrace.yaml.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/borrowtrace/cmd/borrowtrace/transform"
)

// configFileName is looked up in the working directory and its parents.
const configFileName = ".borrowtrace.yaml"

// toolConfig is the on-disk configuration shape.
type toolConfig struct {
	// MutatingPrefixes overrides the method-name heuristic for
	// exclusive receiver borrows. Empty keeps the built-in list.
	MutatingPrefixes []string `yaml:"mutating_prefixes"`

	// SkipCaptures disables closure-capture tracking.
	SkipCaptures bool `yaml:"skip_captures"`

	// Output sets the default snapshot path baked into build output
	// messages; instrumented binaries still honor BORROWTRACE_OUT.
	Output string `yaml:"output"`
}

// loadConfig reads .borrowtrace.yaml, walking up from dir like the go
// tool finds go.mod. A missing file yields the zero config.
func loadConfig(dir string) (*toolConfig, error) {
	for {
		path := filepath.Join(dir, configFileName)
		data, err := os.ReadFile(path)
		if err == nil {
			var cfg toolConfig
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			return &cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return &toolConfig{}, nil
		}
		dir = parent
	}
}

// transformOptions converts tool configuration into transformer options.
func (c *toolConfig) transformOptions(sites *transform.SiteAllocator) transform.Options {
	return transform.Options{
		MutatingPrefixes: c.MutatingPrefixes,
		SkipCaptures:     c.SkipCaptures,
		Sites:            sites,
	}
}
