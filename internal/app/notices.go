package app

import (
	"errors"
	"fmt"

	"github.com/petems/dictation-tray/internal/audio"
	"github.com/petems/dictation-tray/internal/monitor"
	"github.com/petems/dictation-tray/internal/transcribe"
	"github.com/petems/dictation-tray/internal/ui"
)

const recoveryHints = "This often happens after sleep/wake or when a device is unplugged. Try:\n" +
	"1. Use \"Refresh Audio Devices\" in the menu\n" +
	"2. Select a different microphone\n" +
	"3. Restart the app"

// changeNotice maps a device change to the notice shown for it. List-only
// changes and preference reloads only redraw the menu.
func changeNotice(c monitor.Change) (ui.Notice, bool) {
	switch c.Kind() {
	case monitor.KindSelectionManual:
		return ui.Notice{
			Title:    "Microphone Changed",
			Subtitle: "User Selection",
			Message:  "Microphone manually switched to: " + c.New.Name,
		}, true

	case monitor.KindSelectionAuto:
		switch {
		case !c.New.Valid():
			return ui.Notice{
				Title:   "No Microphones",
				Message: "No microphones found on your system. Please connect a microphone. Recording will be disabled.",
				Alert:   true,
			}, true
		case !c.Old.Valid():
			// initial selection
			return ui.Notice{}, false
		case c.Reason == monitor.ReasonFallback:
			return ui.Notice{
				Title:    "Microphone Error - Retrying",
				Subtitle: "Attempting fallback",
				Message:  fmt.Sprintf("Audio device '%s' failed. Trying '%s'...", c.Old.Name, c.New.Name),
			}, true
		case !c.Snapshot.Contains(c.Old):
			return ui.Notice{
				Title:   "Microphone Auto-Switched",
				Message: fmt.Sprintf("Mic '%s' was unavailable. Switched to '%s'.", c.Old.Name, c.New.Name),
			}, true
		default:
			return ui.Notice{
				Title:   "Microphone Changed",
				Message: fmt.Sprintf("Microphone changed from '%s' to '%s'", c.Old.Name, c.New.Name),
			}, true
		}
	}
	return ui.Notice{}, false
}

func recordingFailedNotice(err error) ui.Notice {
	if errors.Is(err, audio.ErrNoDeviceAvailable) {
		return ui.Notice{
			Title:   "No Microphones",
			Message: "No microphones available. Connect a microphone and try again.",
			Alert:   true,
		}
	}

	var openErr *audio.StreamOpenError
	if errors.As(err, &openErr) {
		msg := fmt.Sprintf("Could not start audio recording with %s:\n%v", openErr.Device.Name, openErr.Err)
		if openErr.DeviceRelated {
			msg += "\n\n" + recoveryHints + fmt.Sprintf("\n\nTechnical details: Device ID %d became invalid.", openErr.Device.Index)
		}
		return ui.Notice{Title: "Recording Failed", Message: msg, Alert: true}
	}

	return ui.Notice{
		Title:   "Recording Failed",
		Message: fmt.Sprintf("Could not start audio recording:\n%v\n\n%s", err, recoveryHints),
		Alert:   true,
	}
}

func transcriptionNotice(err error, req transcribe.Request) ui.Notice {
	var exitErr *transcribe.ExitError
	switch {
	case errors.Is(err, transcribe.ErrTimeout):
		return ui.Notice{Title: "Transcription Timeout", Message: fmt.Sprintf("Transcription took longer than %s.", req.Timeout), Alert: true}
	case errors.Is(err, transcribe.ErrNotFound):
		return ui.Notice{Title: "Exec Error", Message: fmt.Sprintf("Whisper exec not found:\n%v", err), Alert: true}
	case errors.As(err, &exitErr):
		return ui.Notice{
			Title:   "Transcription Error",
			Message: fmt.Sprintf("Whisper Error (Code %d):\n%s", exitErr.Code, transcribe.Excerpt(exitErr.Stderr, 200)),
			Alert:   true,
		}
	default:
		return ui.Notice{Title: "Transcription Error", Message: fmt.Sprintf("Unexpected error: %v", err), Alert: true}
	}
}
