// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the perfgate CLI.
//
// Colors are dropped automatically when the output is not a terminal, so
// the same rendering works for CI logs.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Tone classifies a decision name for display.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneGood
	ToneWarn
	ToneBad
)

// ToneOf maps evaluation outcomes and comparison outcomes to a tone.
func ToneOf(decision string) Tone {
	switch decision {
	case "PASS", "IMPROVEMENT", "NO_SIGNIFICANT_CHANGE":
		return ToneGood
	case "WARN", "INCONCLUSIVE":
		return ToneWarn
	case "FAIL", "REGRESSION":
		return ToneBad
	default:
		return ToneNeutral
	}
}

// Style returns the text style of the tone.
func (t Tone) Style() lipgloss.Style {
	switch t {
	case ToneGood:
		return Styles.Success
	case ToneWarn:
		return Styles.Warning
	case ToneBad:
		return Styles.Error
	default:
		return Styles.Bold
	}
}

// Icon returns the status icon of the tone.
func (t Tone) Icon() Icon {
	switch t {
	case ToneGood:
		return IconSuccess
	case ToneWarn:
		return IconWarning
	case ToneBad:
		return IconError
	default:
		return IconBullet
	}
}

// Decision renders "<icon> <decision>" styled by its tone.
func Decision(decision string) string {
	tone := ToneOf(decision)
	return fmt.Sprintf("%s %s", tone.Icon().Render(), tone.Style().Bold(true).Render(decision))
}

// Title writes a styled title line.
func Title(w io.Writer, text string) {
	fmt.Fprintln(w, Styles.Title.Render(text))
}

// Field writes an indented "key: value" line with a muted key.
func Field(w io.Writer, key, value string) {
	fmt.Fprintf(w, "  %s %s\n", Styles.Muted.Render(key+":"), value)
}

// Bullet writes an indented bullet line.
func Bullet(w io.Writer, text string) {
	fmt.Fprintf(w, "  %s %s\n", IconBullet.Render(), text)
}

// Box wraps text in a rounded border.
func Box(text string) string {
	return Styles.Box.Render(text)
}

// Table renders rows under headers with a rounded border. Cells of the
// column named by toneColumn (or -1 for none) are colored by ToneOf.
func Table(headers []string, rows [][]string, toneColumn int) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSlate)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			if col == toneColumn && row >= 0 && row < len(rows) && col < len(rows[row]) {
				return ToneOf(rows[row][col]).Style().Padding(0, 1)
			}
			return Styles.Cell
		})
	return t.Render()
}
