package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ghalamif/AegisCDSS"
)

var (
	accent = lipgloss.Color("#FF0000")
	muted  = lipgloss.Color("#666666")
	green  = lipgloss.Color("#00CC66")
	amber  = lipgloss.Color("#FFB000")
	white  = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(white)
	labelStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(muted)
	okStyle    = lipgloss.NewStyle().Foreground(green).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(amber)
	errorStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

func renderGraph(path string, g *aegiscdss.Graph) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("actor network"), mutedStyle.Render(path))
	fmt.Fprintf(&b, "%s\n\n", mutedStyle.Render(fmt.Sprintf("%d actors · %d edges", len(g.Actors), len(g.Edges))))

	var edges strings.Builder
	if len(g.Edges) == 0 {
		edges.WriteString(mutedStyle.Render("no edges"))
	}
	for i, e := range g.Edges {
		if i > 0 {
			edges.WriteString("\n")
		}
		fmt.Fprintf(&edges, "%s → %s %s", e.From, e.To, mutedStyle.Render("["+strings.Join(e.Channels, ", ")+"]"))
	}
	b.WriteString(labelStyle.Render("▸ EDGES"))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(edges.String()))
	b.WriteString("\n\n")

	section := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", name)), strings.Join(items, ", "))
	}
	section("order", g.Order)
	section("sources", g.Sources)
	section("leafs", g.Leafs)
	section("producers", g.Producers)
	section("external inputs", g.ExternalInputs)
	section("self-feeding", g.SelfFeeding)

	if len(g.Warnings) > 0 {
		b.WriteString("\n")
		for _, w := range g.Warnings {
			b.WriteString(warnStyle.Render("! " + w.String()))
			b.WriteString("\n")
		}
	}
	return b.String()
}
