package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/models"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// render applies style only when output is going to a terminal.
func render(style lipgloss.Style, text string) string {
	if !stylesEnabled() {
		return text
	}
	return style.Render(text)
}

func formatKind(kind eventmap.Kind) string {
	switch kind {
	case eventmap.KindList:
		return render(styleSuccess, kind.String())
	case eventmap.KindVariants:
		return render(styleInfo, kind.String())
	case eventmap.KindTiered:
		return render(styleWarning, kind.String())
	default:
		return render(styleError, kind.String())
	}
}

func formatEntryType(t models.EventType) string {
	label := string(t)
	switch t {
	case models.EventTypeFireMatched, models.EventTypeActionExecuted, models.EventTypeConfigReloaded:
		return render(styleSuccess, label)
	case models.EventTypeFireMissed, models.EventTypeAudioToggled:
		return render(styleMuted, label)
	case models.EventTypeActionFailed, models.EventTypeConfigReloadFailed:
		return render(styleError, label)
	default:
		return label
	}
}

func formatStatusLabel(ok bool, detail string) string {
	label := render(styleSuccess, "OK")
	if !ok {
		label = render(styleError, "ERR")
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return label
	}
	return fmt.Sprintf("%s %s", label, detail)
}
