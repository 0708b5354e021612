package monitor

import (
	"time"

	"github.com/petems/dictation-tray/internal/audio"
)

// Reason records what started the scan that produced a change.
type Reason int

const (
	ReasonScan Reason = iota
	ReasonManual
	ReasonFallback
	ReasonPreferences
)

func (r Reason) String() string {
	switch r {
	case ReasonScan:
		return "scan"
	case ReasonManual:
		return "manual"
	case ReasonFallback:
		return "fallback"
	case ReasonPreferences:
		return "preferences"
	default:
		return "unknown"
	}
}

// Kind classifies a change for presentation.
type Kind int

const (
	KindListChanged Kind = iota
	KindSelectionAuto
	KindSelectionManual
	KindPreferences
)

// Change describes one committed update to the selection state.
type Change struct {
	Old, New    audio.Device
	ListChanged bool
	Snapshot    audio.Snapshot
	Reason      Reason
	At          time.Time
}

// SelectionChanged reports whether the selected device identity moved.
func (c Change) SelectionChanged() bool {
	return c.Old.Index != c.New.Index || c.Old.Name != c.New.Name
}

// Kind returns the presentation class of the change.
func (c Change) Kind() Kind {
	switch {
	case c.SelectionChanged() && c.Reason == ReasonManual:
		return KindSelectionManual
	case c.SelectionChanged():
		return KindSelectionAuto
	case c.Reason == ReasonPreferences:
		return KindPreferences
	default:
		return KindListChanged
	}
}
