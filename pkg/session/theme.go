package session

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ThemeEnv is the environment override consumed at session start.
const ThemeEnv = "DPDB_THEME"

// Theme is the cosmetic color palette for session rendering.
type Theme struct {
	Name      string
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Success   lipgloss.Color
	Info      lipgloss.Color
	Highlight lipgloss.Color
	FileName  lipgloss.Color
	LineNo    lipgloss.Color
	Function  lipgloss.Color
	VarName   lipgloss.Color
	VarType   lipgloss.Color
	VarValue  lipgloss.Color
	Border    lipgloss.Color
}

// DarkTheme is the default palette.
func DarkTheme() Theme {
	return Theme{
		Name:      "dark",
		Error:     lipgloss.Color("1"),  // red
		Warning:   lipgloss.Color("3"),  // yellow
		Success:   lipgloss.Color("2"),  // green
		Info:      lipgloss.Color("6"),  // cyan
		Highlight: lipgloss.Color("5"),  // magenta
		FileName:  lipgloss.Color("6"),
		LineNo:    lipgloss.Color("3"),
		Function:  lipgloss.Color("2"),
		VarName:   lipgloss.Color("6"),
		VarType:   lipgloss.Color("5"),
		VarValue:  lipgloss.Color("2"),
		Border:    lipgloss.Color("4"), // blue
	}
}

// LightTheme swaps in colors readable on light backgrounds.
func LightTheme() Theme {
	return Theme{
		Name:      "light",
		Error:     lipgloss.Color("1"),
		Warning:   lipgloss.Color("166"), // dark orange
		Success:   lipgloss.Color("22"),  // dark green
		Info:      lipgloss.Color("4"),   // blue
		Highlight: lipgloss.Color("93"),  // purple
		FileName:  lipgloss.Color("4"),
		LineNo:    lipgloss.Color("166"),
		Function:  lipgloss.Color("22"),
		VarName:   lipgloss.Color("4"),
		VarType:   lipgloss.Color("93"),
		VarValue:  lipgloss.Color("22"),
		Border:    lipgloss.Color("4"),
	}
}

// DetectTheme resolves the session theme: the DPDB_THEME override wins, then
// the config file, then terminal heuristics, defaulting to dark.
func DetectTheme(configTheme string, out io.Writer) Theme {
	switch strings.ToLower(os.Getenv(ThemeEnv)) {
	case "light":
		return LightTheme()
	case "dark":
		return DarkTheme()
	}
	switch strings.ToLower(configTheme) {
	case "light":
		return LightTheme()
	case "dark":
		return DarkTheme()
	}

	f, isFile := out.(*os.File)
	if !isFile || !isatty.IsTerminal(f.Fd()) {
		// colors are stripped anyway; the palette choice is moot
		return DarkTheme()
	}

	// COLORFGBG is "foreground;background"; 7 and up is a light background.
	if fgbg := os.Getenv("COLORFGBG"); fgbg != "" {
		parts := strings.Split(fgbg, ";")
		if len(parts) >= 2 {
			if bg, err := strconv.Atoi(parts[len(parts)-1]); err == nil && bg >= 7 {
				return LightTheme()
			}
		}
	}
	if strings.Contains(strings.ToLower(os.Getenv("TERM")), "light") {
		return LightTheme()
	}
	if !lipgloss.HasDarkBackground() {
		return LightTheme()
	}
	return DarkTheme()
}
