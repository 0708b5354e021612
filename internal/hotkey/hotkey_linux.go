//go:build linux

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <stdlib.h>

Display* displayPtr = NULL;

int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
    }
    return displayPtr != NULL;
}

int grabKey(unsigned long keysym, unsigned int modifiers) {
    if (!openDisplay()) return 0;

    KeyCode keycode = XKeysymToKeycode(displayPtr, (KeySym)keysym);
    if (keycode == 0) return 0;

    Window root = DefaultRootWindow(displayPtr);
    // Also grab with CapsLock and NumLock held.
    unsigned int extra[] = {0, LockMask, Mod2Mask, LockMask | Mod2Mask};
    for (int i = 0; i < 4; i++) {
        XGrabKey(displayPtr, keycode, modifiers | extra[i], root, False, GrabModeAsync, GrabModeAsync);
    }
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);

    return keycode;
}

void ungrabKey(int keycode, unsigned int modifiers) {
    if (displayPtr == NULL) return;

    Window root = DefaultRootWindow(displayPtr);
    unsigned int extra[] = {0, LockMask, Mod2Mask, LockMask | Mod2Mask};
    for (int i = 0; i < 4; i++) {
        XUngrabKey(displayPtr, keycode, modifiers | extra[i], root);
    }
    XSync(displayPtr, False);
}

// checkEvent returns 1 and fills keycode/pressed for the next key event.
// A release immediately followed by a press of the same key at the same
// time is auto-repeat and is swallowed.
int checkEvent(int* keycode, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    while (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyRelease && XEventsQueued(displayPtr, QueuedAfterReading) > 0) {
            XEvent next;
            XPeekEvent(displayPtr, &next);
            if (next.type == KeyPress && next.xkey.time == event.xkey.time &&
                next.xkey.keycode == event.xkey.keycode) {
                XNextEvent(displayPtr, &next);
                continue;
            }
        }
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}

void closeDisplay() {
    if (displayPtr != NULL) {
        XCloseDisplay(displayPtr);
        displayPtr = NULL;
    }
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type binding struct {
	keycode int
	mask    uint32
	cb      func(bool)
}

type linuxManager struct {
	log zerolog.Logger

	// Xlib is used without XInitThreads, so every call holds mu.
	mu       sync.Mutex
	bindings map[string]binding
	stop     chan struct{}
	done     chan struct{}
}

// New creates a new Linux hotkey manager using X11
func New(log zerolog.Logger) (Manager, error) {
	if C.openDisplay() == 0 {
		return nil, fmt.Errorf("open X display: %w", ErrUnsupported)
	}

	mgr := &linuxManager{
		log:      log.With().Str("component", "hotkey").Logger(),
		bindings: make(map[string]binding),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	acc, err := Parse(accel)
	if err != nil {
		return err
	}
	keysym, mask := acc.X11()

	m.mu.Lock()
	defer m.mu.Unlock()

	keycode := C.grabKey(C.ulong(keysym), C.uint(mask))
	if keycode == 0 {
		return fmt.Errorf("failed to grab key %s", acc)
	}

	m.bindings[acc.String()] = binding{keycode: int(keycode), mask: mask, cb: callback}
	m.log.Info().Str("hotkey", acc.String()).Int("keycode", int(keycode)).Msg("Hotkey registered")
	return nil
}

func (m *linuxManager) eventLoop() {
	defer close(m.done)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			for {
				cb, pressed, ok := m.next()
				if !ok {
					break
				}
				cb(pressed)
			}
		}
	}
}

func (m *linuxManager) next() (func(bool), bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keycode, pressed C.int
	for C.checkEvent(&keycode, &pressed) != 0 {
		for _, b := range m.bindings {
			if b.keycode == int(keycode) {
				return b.cb, pressed == 1, true
			}
		}
	}
	return nil, false, false
}

func (m *linuxManager) Unregister(accel string) error {
	acc, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[acc.String()]
	if !ok {
		return nil
	}
	C.ungrabKey(C.int(b.keycode), C.uint(b.mask))
	delete(m.bindings, acc.String())
	return nil
}

func (m *linuxManager) Close() error {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bindings {
		C.ungrabKey(C.int(b.keycode), C.uint(b.mask))
	}
	m.bindings = map[string]binding{}
	C.closeDisplay()
	return nil
}
