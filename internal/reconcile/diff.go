package reconcile

import (
	"fmt"
	"log/slog"
	"sort"
)

// Kind markers used when reporting a diff.
const (
	MarkCreated = "[N]"
	MarkUpdated = "[U]"
	MarkMoved   = "[M]"
	MarkDeleted = "[D]"
)

type Change struct {
	Hash string
	Path string
}

type Move struct {
	Hash string
	From string
	To   string
}

type Diff struct {
	Moved   []Move
	Updated []Change
	Created []Change
	Deleted []Change
}

func (d *Diff) HasChanges() bool {
	return len(d.Moved) > 0 || len(d.Updated) > 0 || len(d.Created) > 0 || len(d.Deleted) > 0
}

// Wanted returns the distinct hashes whose content must be transferred, sorted
// ascending. This order is the order file bodies travel in.
func (d *Diff) Wanted() []string {
	seen := make(map[string]struct{}, len(d.Updated)+len(d.Created))
	out := make([]string, 0, len(d.Updated)+len(d.Created))
	for _, list := range [][]Change{d.Updated, d.Created} {
		for _, c := range list {
			if _, dup := seen[c.Hash]; dup {
				continue
			}
			seen[c.Hash] = struct{}{}
			out = append(out, c.Hash)
		}
	}
	sort.Strings(out)
	return out
}

// Paths returns the changed paths of a change list.
func Paths(changes []Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Path
	}
	return out
}

// Lines renders the diff one entry per line with its kind marker.
func (d *Diff) Lines() []string {
	var lines []string
	for _, m := range d.Moved {
		lines = append(lines, fmt.Sprintf("%s %s -> %s", MarkMoved, m.From, m.To))
	}
	for _, c := range d.Updated {
		lines = append(lines, fmt.Sprintf("%s %s", MarkUpdated, c.Path))
	}
	for _, c := range d.Created {
		lines = append(lines, fmt.Sprintf("%s %s", MarkCreated, c.Path))
	}
	for _, c := range d.Deleted {
		lines = append(lines, fmt.Sprintf("%s %s", MarkDeleted, c.Path))
	}
	return lines
}

func (d *Diff) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("moved", len(d.Moved)),
		slog.Int("updated", len(d.Updated)),
		slog.Int("created", len(d.Created)),
		slog.Int("deleted", len(d.Deleted)),
	)
}
