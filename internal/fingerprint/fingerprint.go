// Package fingerprint computes content hashes for every tracked file of a project tree.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
)

const chunkSize = 32 * 1024

var ErrInvalidEntryKind = errors.New("invalid entry kind")

// Ignorer decides whether an absolute path is pruned from the walk.
type Ignorer interface {
	ShouldIgnore(path string) bool
}

type Fingerprint struct {
	Hash string `json:"hash"`
	Path string `json:"path"` // relative, forward slashes
}

// Compute walks root and fingerprints every regular file not pruned by ignore.
// Directories are visited with an explicit stack; entries that are neither regular
// files nor directories (symlinks, devices, sockets) fail the whole call.
func Compute(root string, ignore Ignorer) (*Set, error) {
	root = filepath.Clean(root)
	set := NewSet()
	buf := make([]byte, chunkSize)

	stack := []string{""}
	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		abs := filepath.Join(root, filepath.FromSlash(rel))
		if ignore != nil && ignore.ShouldIgnore(abs) {
			continue
		}

		info, err := os.Lstat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}

		switch mode := info.Mode(); {
		case mode.IsRegular():
			hash, err := hashFile(abs, buf)
			if err != nil {
				return nil, err
			}
			set.Add(Fingerprint{Hash: hash, Path: rel})

		case mode.IsDir():
			entries, err := os.ReadDir(abs)
			if err != nil {
				return nil, fmt.Errorf("read dir %s: %w", abs, err)
			}
			// push in reverse so that children pop in name order
			for i := len(entries) - 1; i >= 0; i-- {
				stack = append(stack, path.Join(rel, entries[i].Name()))
			}

		default:
			return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidEntryKind, abs, mode.Type())
		}
	}

	return set, nil
}

// hashFile digests the content in fixed size chunks followed by the base name,
// so equal content stored under different names yields different hashes.
func hashFile(abs string, buf []byte) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", abs, err)
	}
	h.Write([]byte(filepath.Base(abs)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Set is a fingerprint collection indexed both ways. The insertion order is kept
// for the commit file; lookups never depend on it.
type Set struct {
	list   []Fingerprint
	byHash map[string]string
	byPath map[string]string
}

func NewSet(fps ...Fingerprint) *Set {
	s := &Set{
		byHash: make(map[string]string, len(fps)),
		byPath: make(map[string]string, len(fps)),
	}
	for _, fp := range fps {
		s.Add(fp)
	}
	return s
}

// FromHashMap builds a set from the wire form {hash: path}, ordered by path.
func FromHashMap(m map[string]string) *Set {
	fps := make([]Fingerprint, 0, len(m))
	for hash, p := range m {
		fps = append(fps, Fingerprint{Hash: hash, Path: p})
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i].Path < fps[j].Path })
	return NewSet(fps...)
}

// Add inserts fp. A later entry with an already known hash or path replaces the lookup.
// Equal content under the same base name in two directories hashes the same, so
// only the later path survives in the wire form; that shadowing is logged.
func (s *Set) Add(fp Fingerprint) {
	if prev, ok := s.byHash[fp.Hash]; ok && prev != fp.Path {
		slog.Warn("fingerprint shadows identical file", "hash", fp.Hash, "path", fp.Path, "shadowed", prev)
	}
	s.list = append(s.list, fp)
	s.byHash[fp.Hash] = fp.Path
	s.byPath[fp.Path] = fp.Hash
}

func (s *Set) Len() int {
	return len(s.list)
}

func (s *Set) List() []Fingerprint {
	return append([]Fingerprint(nil), s.list...)
}

func (s *Set) PathOf(hash string) (string, bool) {
	p, ok := s.byHash[hash]
	return p, ok
}

func (s *Set) HashOf(path string) (string, bool) {
	h, ok := s.byPath[path]
	return h, ok
}

// HashMap returns a copy of the hash -> path index, the form sent over the wire.
func (s *Set) HashMap() map[string]string {
	out := make(map[string]string, len(s.byHash))
	for h, p := range s.byHash {
		out[h] = p
	}
	return out
}

// PathMap returns a copy of the path -> hash index.
func (s *Set) PathMap() map[string]string {
	out := make(map[string]string, len(s.byPath))
	for p, h := range s.byPath {
		out[p] = h
	}
	return out
}
