// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/socialgraph/services/graph/migrations"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

var (
	colorOK      = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")

	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorOK)
	styleOK      = lipgloss.NewStyle().Foreground(colorOK)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
)

// printer writes command output, styled only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{w: w, color: color}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) title(format string, args ...any) {
	fmt.Fprintln(p.w, p.style(styleTitle, fmt.Sprintf(format, args...)))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) ok(format string, args ...any) {
	fmt.Fprintln(p.w, p.style(styleOK, "✓")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.style(styleWarning, "⚠")+" "+fmt.Sprintf(format, args...))
}

// stateStyle picks the colour of a migration state.
func stateStyle(state migrations.State) lipgloss.Style {
	switch state {
	case migrations.StateApplied:
		return styleOK
	case migrations.StatePending:
		return styleMuted
	default:
		return styleError
	}
}

// migrationTable renders `migrate status`.
func (p *printer) migrationTable(rows []migrations.MigrationStatus) {
	headers := []string{"VERSION", "NAME", "STATE", "APPLIED AT", "CHECKSUM"}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		applied := "-"
		if r.AppliedAt != nil {
			applied = r.AppliedAt.Local().Format("2006-01-02 15:04:05")
		}
		sum := r.Checksum
		if sum == "" {
			sum = r.AppliedChecksum
		}
		if len(sum) > 12 {
			sum = sum[:12]
		}
		cells[i] = []string{fmt.Sprintf("%d", r.Version), r.Name, string(r.State), applied, sum}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range cells {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	pad := func(s string, w int) string {
		return s + strings.Repeat(" ", w-lipgloss.Width(s))
	}

	var header []string
	for i, h := range headers {
		header = append(header, pad(h, widths[i]))
	}
	fmt.Fprintln(p.w, p.style(styleTitle, strings.Join(header, "  ")))

	for i, row := range cells {
		out := make([]string, len(row))
		for j, c := range row {
			out[j] = pad(c, widths[j])
		}
		out[2] = p.style(stateStyle(rows[i].State), out[2])
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(out, "  "), " "))
	}
}

// encode writes v as indented JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (want yaml or json)", format)
}
