//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa -framework ApplicationServices
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Status mirrors AVAuthorizationStatus.
type Status int

const (
	PermissionNotDetermined Status = 0
	PermissionRestricted    Status = 1
	PermissionDenied        Status = 2
	PermissionAuthorized    Status = 3
)

func (s Status) String() string {
	switch s {
	case PermissionNotDetermined:
		return "not-determined"
	case PermissionRestricted:
		return "restricted"
	case PermissionDenied:
		return "denied"
	case PermissionAuthorized:
		return "authorized"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() Status {
	return Status(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// CheckAccessibility reports whether the app may post paste keystrokes and
// shows the system prompt when it may not.
func CheckAccessibility() bool {
	return C.checkAccessibilityPermission() == 1
}

// EnsurePermissions checks and requests microphone and accessibility access.
func EnsurePermissions(log zerolog.Logger) error {
	if status := CheckMicrophone(); status != PermissionAuthorized {
		log.Warn().Stringer("status", status).Msg("Microphone permission required")
		RequestMicrophone()
		return fmt.Errorf("%w (System Settings > Privacy & Security > Microphone)", ErrMicrophone)
	}

	if !CheckAccessibility() {
		log.Warn().Msg("Accessibility permission required for pasting")
		return fmt.Errorf("%w (System Settings > Privacy & Security > Accessibility)", ErrAccessibility)
	}

	return nil
}
