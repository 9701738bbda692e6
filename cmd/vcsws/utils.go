package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/openmined/vcsws/internal/reconcile"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var (
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	hashStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// printDiff writes one marked line per diff entry.
func printDiff(w io.Writer, d *reconcile.Diff) {
	if d == nil || !d.HasChanges() {
		fmt.Fprintln(w, "up to date")
		return
	}
	for _, m := range d.Moved {
		fmt.Fprintln(w, cyan(reconcile.MarkMoved), m.From, "->", m.To)
	}
	for _, c := range d.Updated {
		fmt.Fprintln(w, yellow(reconcile.MarkUpdated), c.Path)
	}
	for _, c := range d.Created {
		fmt.Fprintln(w, green(reconcile.MarkCreated), c.Path)
	}
	for _, c := range d.Deleted {
		fmt.Fprintln(w, red(reconcile.MarkDeleted), c.Path)
	}
}
