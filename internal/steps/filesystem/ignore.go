// Package filesystem implements the Filesystem step (C5): a repository
// walk that writes Directory/File nodes and CONTAINS edges to the graph
// store, skipping ignored paths. Grounded on the ignore-pattern
// compilation in Azure-containerization-assist/pkg/filetree.ReadFileTree.
package filesystem

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// builtinIgnores is the always-applied first tier, matching
// filetree.defaultIgnores.
var builtinIgnores = []string{
	"node_modules/",
	"vendor/",
	"go.sum",
	"target/",
	"build/",
	"out/",
	"dist/",
	"bin/",
	"obj/",
	".git/",
	".DS_Store",
	".idea/",
	".vscode/",
	"*.class",
	"*.png",
	"*.jpg",
	"*.jpeg",
	"*.gif",
	"*.mp4",
	"*.ico",
	"*.svg",
	"*.log",
	"*.exe",
	"*.pyc",
	"*.pyo",
	"*.tmp",
	"__pycache__/",
	".venv/",
	".summaries/",
}

// IgnoreEngine evaluates the three-tier ignore policy: built-in patterns,
// the repository's own .gitignore, and config-supplied patterns.
type IgnoreEngine struct {
	matcher *ignore.GitIgnore
}

// NewIgnoreEngine compiles the combined pattern set for root. A missing
// .gitignore is not an error; only the built-in and config tiers apply.
func NewIgnoreEngine(root string, configPatterns []string) (*IgnoreEngine, error) {
	patterns := append([]string{}, builtinIgnores...)

	gitignorePath := filepath.Join(root, ".gitignore")
	if data, err := os.ReadFile(gitignorePath); err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	patterns = append(patterns, configPatterns...)

	return &IgnoreEngine{matcher: ignore.CompileIgnoreLines(patterns...)}, nil
}

// Ignored reports whether relPath (relative to the repository root, using
// OS separators) should be skipped. isDir matters because gitignore
// patterns ending in "/" only match directories.
func (e *IgnoreEngine) Ignored(relPath string, isDir bool) bool {
	pathToMatch := filepath.ToSlash(relPath)
	if isDir {
		pathToMatch += "/"
	}
	return e.matcher.MatchesPath(pathToMatch)
}
