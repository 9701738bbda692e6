// Package ignore implements the set of project paths excluded from fingerprinting.
package ignore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/vcsws/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// List holds absolute paths that are pruned from a walk, plus optional glob rules.
// Plain lines of an ignore file are resolved against the project root and kept only
// when they exist; lines with glob characters are compiled as gitignore rules.
type List struct {
	root     string
	paths    mapset.Set[string]
	rules    []string
	patterns *gitignore.GitIgnore
}

// New returns a list rooted at root that always contains the given paths
// (typically the tool's own metadata directory).
func New(root string, always ...string) *List {
	l := &List{
		root:  filepath.Clean(root),
		paths: mapset.NewThreadUnsafeSet[string](),
	}
	for _, p := range always {
		l.paths.Add(filepath.Clean(p))
	}
	return l
}

// Load reads an ignore file with one project relative entry per line.
// A missing file is not an error.
func (l *List) Load(ignoreFile string) error {
	file, err := os.Open(ignoreFile)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	added := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isPattern(line) {
			l.rules = append(l.rules, line)
			added++
			continue
		}
		abs := filepath.Join(l.root, filepath.FromSlash(line))
		if utils.PathExists(abs) {
			l.paths.Add(abs)
			added++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore file: %w", err)
	}

	if len(l.rules) > 0 {
		l.patterns = gitignore.CompileIgnoreLines(l.rules...)
	}
	slog.Debug("ignore list loaded", "path", ignoreFile, "entries", added)
	return nil
}

// Add puts an absolute path into the set.
func (l *List) Add(path string) {
	l.paths.Add(filepath.Clean(path))
}

// ShouldIgnore reports whether an absolute path is a member of the set, lies under one,
// or matches a glob rule.
func (l *List) ShouldIgnore(path string) bool {
	path = filepath.Clean(path)
	if l.paths.Contains(path) {
		return true
	}
	under := false
	l.paths.Each(func(p string) bool {
		under = strings.HasPrefix(path, p+string(filepath.Separator))
		return under
	})
	if under {
		return true
	}
	if l.patterns == nil {
		return false
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." {
		return false
	}
	return l.patterns.MatchesPath(filepath.ToSlash(rel))
}

// Paths returns the absolute members in sorted order.
func (l *List) Paths() []string {
	out := l.paths.ToSlice()
	sort.Strings(out)
	return out
}

// Append records rel in ignoreFile if it names an existing path under root.
// Reports whether a line was written.
func Append(ignoreFile, root, rel string) (bool, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return false, nil
	}
	if !utils.PathExists(filepath.Join(root, filepath.FromSlash(rel))) {
		return false, nil
	}
	if err := utils.EnsureParent(ignoreFile); err != nil {
		return false, err
	}

	f, err := os.OpenFile(ignoreFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, rel); err != nil {
		return false, fmt.Errorf("append ignore entry: %w", err)
	}
	return true, nil
}

func isPattern(line string) bool {
	return strings.ContainsAny(line, "*?[!")
}
