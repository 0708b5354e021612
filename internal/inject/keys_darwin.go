//go:build darwin

package inject

import "github.com/micmonay/keybd_event"

// Cmd+V
func pasteModifier(kb *keybd_event.KeyBonding) {
	kb.HasSuper(true)
}
