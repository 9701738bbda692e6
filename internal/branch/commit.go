package branch

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/openmined/vcsws/internal/fingerprint"
)

const entrySep = " : "

// Commit is an immutable snapshot of the project's fingerprints with a description.
type Commit struct {
	Name        string
	Description string
	Entries     []fingerprint.Fingerprint
}

// MarshalText renders the commit file: the description on the first line, then
// one `<hash> : <path>` line per entry in snapshot order.
func (c *Commit) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(oneLine(c.Description))
	buf.WriteByte('\n')
	for _, e := range c.Entries {
		buf.WriteString(e.Hash)
		buf.WriteString(entrySep)
		buf.WriteString(e.Path)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ParseCommit reads back a commit file written by MarshalText.
func ParseCommit(name string, data []byte) (*Commit, error) {
	c := &Commit{Name: name}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if scanner.Scan() {
		c.Description = scanner.Text()
	}
	for lineNo := 2; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if line == "" {
			continue
		}
		hash, path, ok := strings.Cut(line, entrySep)
		if !ok || hash == "" || path == "" {
			return nil, fmt.Errorf("commit %s line %d: malformed entry %q", name, lineNo, line)
		}
		c.Entries = append(c.Entries, fingerprint.Fingerprint{Hash: hash, Path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", name, err)
	}
	return c, nil
}

// oneLine keeps the description on the first line of the commit file.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
