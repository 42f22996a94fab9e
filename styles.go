package main

import (
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// -------------------- THEME (Lip Gloss) --------------------
// Styles come from the styles package

var (
	cBorder  = styles.CBorder
	cMuted   = styles.CMuted
	cText    = styles.CText
	cAccent  = styles.CAccent
	cAccent2 = styles.CAccent2
	cWarn    = styles.CWarn
	cDanger  = styles.CDanger

	appStyle   = styles.AppStyle
	panelStyle = styles.PanelStyle
)

// logStyles colors the shared logger to match the theme
func logStyles() *log.Styles {
	s := log.DefaultStyles()
	s.Timestamp = lipgloss.NewStyle().Foreground(cMuted)
	s.Prefix = lipgloss.NewStyle().Bold(true).Foreground(cAccent2)
	s.Message = lipgloss.NewStyle().Foreground(cText)
	s.Key = lipgloss.NewStyle().Foreground(cAccent)
	s.Value = lipgloss.NewStyle().Foreground(cText)
	s.Separator = lipgloss.NewStyle().Faint(true)
	s.Levels[log.DebugLevel] = lipgloss.NewStyle().Foreground(cMuted).SetString("DEBUG")
	s.Levels[log.InfoLevel] = lipgloss.NewStyle().Foreground(cAccent2).SetString("INFO")
	s.Levels[log.WarnLevel] = lipgloss.NewStyle().Foreground(cWarn).SetString("WARN")
	s.Levels[log.ErrorLevel] = lipgloss.NewStyle().Foreground(cDanger).SetString("ERROR")
	return s
}
