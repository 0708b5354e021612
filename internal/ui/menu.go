package ui

import (
	"fmt"
	"strings"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/selector"
)

const (
	currentMarker = "▶ "
	noDevicesText = "No microphones found"
)

// DeviceEntry is one selectable line of the microphone menu.
type DeviceEntry struct {
	Index   audio.Index
	Title   string
	Current bool
}

// DeviceMenu is the rendered content of the microphone submenu.
type DeviceMenu struct {
	Header  string
	Entries []DeviceEntry
	// Placeholder is shown disabled when there are no entries.
	Placeholder string
}

// BuildDeviceMenu renders ranked devices with the current one marked.
func BuildDeviceMenu(ranked []selector.Scored, current audio.Device) DeviceMenu {
	name := "None"
	if current.Valid() {
		name = current.Name
	}
	menu := DeviceMenu{Header: "Current: " + name}

	if len(ranked) == 0 {
		menu.Placeholder = noDevicesText
		return menu
	}
	for _, d := range ranked {
		isCurrent := current.Valid() && d.Index == current.Index && d.Name == current.Name
		title := fmt.Sprintf("%s (Prio: %d)", d.Name, d.Score)
		if isCurrent {
			title = currentMarker + title
		}
		menu.Entries = append(menu.Entries, DeviceEntry{Index: d.Index, Title: title, Current: isCurrent})
	}
	return menu
}

// DeviceListing renders the text of the "List Microphones" dialog and the
// devices command.
func DeviceListing(ranked []selector.Scored, current audio.Device) string {
	if len(ranked) == 0 {
		return "No microphones available."
	}
	var b strings.Builder
	b.WriteString("Available microphones:")
	for _, d := range ranked {
		fmt.Fprintf(&b, "\n%d: %s (Priority: %d)", d.Index, d.Name, d.Score)
		if current.Valid() && d.Index == current.Index {
			b.WriteString(" → CURRENT")
		}
	}
	return b.String()
}

// Status is the recorder state shown in the tray title.
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusProcessing
	StatusError
)

// Title returns the tray title for s.
func (s Status) Title() string {
	return "🎤 " + s.emoji()
}

func (s Status) emoji() string {
	switch s {
	case StatusRecording:
		return "🔴"
	case StatusProcessing:
		return "🟡"
	case StatusError:
		return "⚪️"
	default:
		return "🟢"
	}
}

func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "recording"
	case StatusProcessing:
		return "processing"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}
