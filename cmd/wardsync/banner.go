package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerCrossStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	bannerPulseStyle   = lipgloss.NewStyle().Foreground(colorPrimaryLight)
	bannerTitleStyle   = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	bannerTaglineStyle = lipgloss.NewStyle().Foreground(colorPrimaryDark).Italic(true)
	bannerVersionStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

func renderBanner() string {
	cross := bannerCrossStyle.Render("╋")
	pulse := bannerPulseStyle.Render("─╮╭─╯╰─")
	title := bannerTitleStyle.Render("WARDSYNC")

	lines := []string{
		"   " + cross + "  " + title,
		"   " + pulse,
	}
	return strings.Join(lines, "\n")
}

func renderBannerWithTagline() string {
	tagline := bannerTaglineStyle.Render("   records that wait for the network, so you don't")
	ver := bannerVersionStyle.Render("   " + version)
	return strings.Join([]string{renderBanner(), tagline, ver}, "\n")
}
