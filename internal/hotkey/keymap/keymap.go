// Package keymap parses accelerator strings such as "Alt+Space" or "F6"
// and translates them to X11 and Carbon key codes.
package keymap

import (
	"fmt"
	"strings"
)

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	Ctrl Modifier = 1 << iota
	Alt
	Shift
	Super
)

// Accelerator is a parsed hotkey: one key plus modifiers.
type Accelerator struct {
	Key  string // canonical lower-case key name
	Mods Modifier
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{Ctrl, "Ctrl"}, {Alt, "Alt"}, {Shift, "Shift"}, {Super, "Super"}} {
		if a.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	key := a.Key
	if len(key) == 1 || strings.HasPrefix(key, "f") {
		key = strings.ToUpper(key)
	} else {
		key = strings.ToUpper(key[:1]) + key[1:]
	}
	return strings.Join(append(parts, key), "+")
}

var modifierNames = map[string]Modifier{
	"ctrl":    Ctrl,
	"control": Ctrl,
	"alt":     Alt,
	"option":  Alt,
	"opt":     Alt,
	"shift":   Shift,
	"super":   Super,
	"cmd":     Super,
	"command": Super,
	"meta":    Super,
	"win":     Super,
}

var keyAliases = map[string]string{
	"spacebar": "space",
	"enter":    "return",
	"esc":      "escape",
}

// Parse reads accelerators like "Ctrl+Shift+D", "F6" or "<alt>+<space>".
func Parse(s string) (Accelerator, error) {
	var acc Accelerator
	fields := strings.Split(s, "+")
	for i, f := range fields {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(f), "<>"))
		if name == "" {
			return Accelerator{}, fmt.Errorf("invalid accelerator %q", s)
		}
		if i < len(fields)-1 {
			mod, ok := modifierNames[name]
			if !ok {
				return Accelerator{}, fmt.Errorf("unknown modifier %q in %q", f, s)
			}
			acc.Mods |= mod
			continue
		}
		if alias, ok := keyAliases[name]; ok {
			name = alias
		}
		if _, ok := x11Keysym(name); !ok {
			return Accelerator{}, fmt.Errorf("unknown key %q in %q", f, s)
		}
		acc.Key = name
	}
	return acc, nil
}

// X11 masks from X11/X.h.
const (
	x11ShiftMask   = 1 << 0
	x11ControlMask = 1 << 2
	x11Mod1Mask    = 1 << 3
	x11Mod4Mask    = 1 << 6
)

// X11 returns the keysym and modifier mask for a.
func (a Accelerator) X11() (keysym, mask uint32) {
	keysym, _ = x11Keysym(a.Key)
	if a.Mods&Shift != 0 {
		mask |= x11ShiftMask
	}
	if a.Mods&Ctrl != 0 {
		mask |= x11ControlMask
	}
	if a.Mods&Alt != 0 {
		mask |= x11Mod1Mask
	}
	if a.Mods&Super != 0 {
		mask |= x11Mod4Mask
	}
	return keysym, mask
}

func x11Keysym(name string) (uint32, bool) {
	if len(name) == 1 {
		c := name[0]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			return uint32(c), true
		}
		return 0, false
	}
	if n, ok := functionKey(name); ok {
		return 0xffbe + uint32(n-1), true
	}
	switch name {
	case "space":
		return 0x0020, true
	case "return":
		return 0xff0d, true
	case "tab":
		return 0xff09, true
	case "escape":
		return 0xff1b, true
	case "pause":
		return 0xff13, true
	case "insert":
		return 0xff63, true
	}
	return 0, false
}

// Carbon modifier flags from HIToolbox/Events.h.
const (
	carbonCmdKey     = 0x0100
	carbonShiftKey   = 0x0200
	carbonOptionKey  = 0x0800
	carbonControlKey = 0x1000
)

var carbonKeyCodes = map[string]uint32{
	"a": 0x00, "s": 0x01, "d": 0x02, "f": 0x03, "h": 0x04, "g": 0x05, "z": 0x06,
	"x": 0x07, "c": 0x08, "v": 0x09, "b": 0x0b, "q": 0x0c, "w": 0x0d, "e": 0x0e,
	"r": 0x0f, "y": 0x10, "t": 0x11, "1": 0x12, "2": 0x13, "3": 0x14, "4": 0x15,
	"6": 0x16, "5": 0x17, "9": 0x19, "7": 0x1a, "8": 0x1c, "0": 0x1d, "o": 0x1f,
	"u": 0x20, "i": 0x22, "p": 0x23, "l": 0x25, "j": 0x26, "k": 0x28, "n": 0x2d,
	"m": 0x2e,
	"return": 0x24, "tab": 0x30, "space": 0x31, "escape": 0x35,
	"f1": 0x7a, "f2": 0x78, "f3": 0x63, "f4": 0x76, "f5": 0x60, "f6": 0x61,
	"f7": 0x62, "f8": 0x64, "f9": 0x65, "f10": 0x6d, "f11": 0x67, "f12": 0x6f,
	"f13": 0x69, "f14": 0x6b, "f15": 0x71, "f16": 0x6a, "f17": 0x40, "f18": 0x4f,
	"f19": 0x50, "f20": 0x5a,
}

// Carbon returns the virtual key code and modifier flags for a. ok is false
// when the key has no Carbon equivalent.
func (a Accelerator) Carbon() (keyCode, mods uint32, ok bool) {
	keyCode, ok = carbonKeyCodes[a.Key]
	if a.Mods&Super != 0 {
		mods |= carbonCmdKey
	}
	if a.Mods&Shift != 0 {
		mods |= carbonShiftKey
	}
	if a.Mods&Alt != 0 {
		mods |= carbonOptionKey
	}
	if a.Mods&Ctrl != 0 {
		mods |= carbonControlKey
	}
	return keyCode, mods, ok
}

func functionKey(name string) (int, bool) {
	if len(name) < 2 || name[0] != 'f' {
		return 0, false
	}
	n := 0
	for _, c := range name[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, n >= 1 && n <= 35
}
