package ui

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	envNoInteraction = "HAPPINSTALL_NO_INTERACTION"
	envCI            = "CI"
	envTerm          = "TERM"
)

var interaction struct {
	mu          sync.RWMutex
	initialized bool
	interactive bool
}

// ConfigureInteraction decides once whether output may use colour.
func ConfigureInteraction(noInteraction bool) {
	interactive := detectInteractive(noInteraction)

	interaction.mu.Lock()
	interaction.initialized = true
	interaction.interactive = interactive
	interaction.mu.Unlock()

	if interactive {
		lipgloss.SetColorProfile(termenv.ColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

func IsInteractive() bool {
	interaction.mu.RLock()
	initialized, interactive := interaction.initialized, interaction.interactive
	interaction.mu.RUnlock()
	if initialized {
		return interactive
	}
	ConfigureInteraction(false)
	return IsInteractive()
}

func detectInteractive(noInteraction bool) bool {
	if noInteraction {
		return false
	}
	if envTruthy(envNoInteraction) || envTruthy(envCI) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(envTerm)), "dumb") {
		return false
	}
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func envTruthy(key string) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
