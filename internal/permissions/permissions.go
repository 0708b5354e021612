// Package permissions checks the OS privacy permissions dictation needs.
package permissions

import "errors"

var (
	ErrMicrophone    = errors.New("microphone permission not granted")
	ErrAccessibility = errors.New("accessibility permission not granted")
)
