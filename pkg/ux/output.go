// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders human-facing CLI output.
//
// Output adapts to where it goes: styled with color and icons on a
// terminal, plain text when piped, and tab-separated lines in machine
// mode for scripts.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconLock    Icon = "■"
)

// Mode selects how richly output is rendered.
type Mode string

const (
	// ModeStyled uses colors, icons and boxes.
	ModeStyled Mode = "styled"

	// ModePlain uses icons but no color or boxes.
	ModePlain Mode = "plain"

	// ModeMachine prints stable, prefix-tagged lines for scripting.
	ModeMachine Mode = "machine"
)

// DetectMode picks ModeStyled for terminals and ModePlain otherwise.
//
// NO_COLOR forces ModePlain.
func DetectMode(w io.Writer) Mode {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	f, ok := w.(*os.File)
	if !ok {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes messages to an output and an error stream.
//
// # Thread Safety
//
// Not safe for concurrent use; each command owns one.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
}

// NewPrinter creates a Printer. An empty mode is detected from out.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = DetectMode(out)
	}
	return &Printer{out: out, err: errOut, mode: mode}
}

// Mode returns the rendering mode.
func (p *Printer) Mode() Mode { return p.mode }

// Out returns the output stream.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) render(style lipgloss.Style, text string) string {
	if p.mode != ModeStyled {
		return text
	}
	return style.Render(text)
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.render(Styles.Success, string(i))
	case IconWarning:
		return p.render(Styles.Warning, string(i))
	case IconError:
		return p.render(Styles.Error, string(i))
	case IconPending:
		return p.render(Styles.Muted, string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title. Nothing in machine mode.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.render(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), p.render(Styles.Success, text))
}

// Warning prints a warning to the error stream.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.icon(IconWarning), p.render(Styles.Warning, text))
}

// Error prints an error to the error stream.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.icon(IconError), p.render(Styles.Error, text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(Styles.Muted, "│"), text)
}

// Muted prints secondary text. Nothing in machine mode.
func (p *Printer) Muted(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.render(Styles.Muted, text))
}

// Box prints a titled block; rounded and bordered when styled.
func (p *Printer) Box(title string, lines ...string) {
	content := strings.Join(lines, "\n")
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.out, "%s: %s\n", title, strings.Join(lines, "; "))
	case ModePlain:
		fmt.Fprintln(p.out, title)
		for _, l := range lines {
			fmt.Fprintf(p.out, "  %s\n", l)
		}
	default:
		fmt.Fprintln(p.out, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// ErrorBox prints a titled block to the error stream.
func (p *Printer) ErrorBox(title string, lines ...string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.err, "ERROR %s: %s\n", title, strings.Join(lines, "; "))
	case ModePlain:
		fmt.Fprintf(p.err, "%s %s\n", IconError, title)
		for _, l := range lines {
			fmt.Fprintf(p.err, "  %s\n", l)
		}
	default:
		body := Styles.Error.Bold(true).Render(title) + "\n" + strings.Join(lines, "\n")
		fmt.Fprintln(p.err, Styles.ErrorBox.Render(body))
	}
}

// Row prints one tab-separated record in machine mode, or an aligned
// line otherwise. The first field is highlighted when styled.
func (p *Printer) Row(icon Icon, fields ...string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, strings.Join(fields, "\t"))
		return
	}
	if len(fields) > 0 {
		fields[0] = p.render(Styles.Highlight, fields[0])
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(icon), strings.Join(fields, "  "))
}
