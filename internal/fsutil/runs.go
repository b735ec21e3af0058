package fsutil

import (
	"fmt"
	"path/filepath"
)

// RunDir is one acquisition run directory.
type RunDir struct {
	Path      string
	Name      string
	InputSize int64 // Bytes in the first required input
}

// DiscoverOptions selects run directories.
type DiscoverOptions struct {
	// Required files must all be present in the directory.
	Required []string
	// Outputs mark a run as already processed when any of them exists.
	Outputs []string
	// Force keeps processed runs.
	Force bool
}

// Discovery is the result of DiscoverRuns.
type Discovery struct {
	Runs      []RunDir
	Processed []string // Directories skipped because outputs exist
	Missing   []string // Directories skipped because inputs are missing
}

// DiscoverRuns expands pattern and keeps the directories holding every
// required input. Matches that are not directories are ignored.
func DiscoverRuns(fsys FileSystem, pattern string, opts DiscoverOptions) (Discovery, error) {
	var d Discovery
	matches, err := fsys.Glob(pattern)
	if err != nil {
		return d, fmt.Errorf("bad run pattern %q: %w", pattern, err)
	}

	for _, dir := range matches {
		info, err := fsys.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}

		if !hasAll(fsys, dir, opts.Required) {
			d.Missing = append(d.Missing, dir)
			continue
		}
		if !opts.Force && hasAny(fsys, dir, opts.Outputs) {
			d.Processed = append(d.Processed, dir)
			continue
		}

		run := RunDir{Path: dir, Name: filepath.Base(dir)}
		if len(opts.Required) > 0 {
			if fi, err := fsys.Stat(filepath.Join(dir, opts.Required[0])); err == nil {
				run.InputSize = fi.Size()
			}
		}
		d.Runs = append(d.Runs, run)
	}
	return d, nil
}

func hasAll(fsys FileSystem, dir string, names []string) bool {
	for _, n := range names {
		if !fsys.Exists(filepath.Join(dir, n)) {
			return false
		}
	}
	return true
}

func hasAny(fsys FileSystem, dir string, names []string) bool {
	for _, n := range names {
		if fsys.Exists(filepath.Join(dir, n)) {
			return true
		}
	}
	return false
}
