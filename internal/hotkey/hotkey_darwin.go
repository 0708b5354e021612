//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

extern void goHotkeyCallback(int id, int pressed);

#define MAX_HOTKEYS 8

static EventHotKeyRef hotKeyRefs[MAX_HOTKEYS];
static int handlerInstalled = 0;

static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    EventHotKeyID hkID;
    GetEventParameter(theEvent, kEventParamDirectObject, typeEventHotKeyID, NULL, sizeof(hkID), NULL, &hkID);

    UInt32 eventKind = GetEventKind(theEvent);
    int pressed = (eventKind == kEventHotKeyPressed) ? 1 : 0;

    goHotkeyCallback((int)hkID.id, pressed);

    return noErr;
}

static int registerHotkey(int id, UInt32 keyCode, UInt32 modifiers) {
    if (id < 1 || id >= MAX_HOTKEYS) return 0;

    if (!handlerInstalled) {
        EventTypeSpec eventTypes[2];
        eventTypes[0].eventClass = kEventClassKeyboard;
        eventTypes[0].eventKind = kEventHotKeyPressed;
        eventTypes[1].eventClass = kEventClassKeyboard;
        eventTypes[1].eventKind = kEventHotKeyReleased;

        EventHandlerUPP handlerUPP = NewEventHandlerUPP(hotkeyHandler);
        InstallApplicationEventHandler(handlerUPP, 2, eventTypes, NULL, NULL);
        handlerInstalled = 1;
    }

    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'dict';
    hotKeyID.id = id;

    OSStatus status = RegisterEventHotKey(keyCode, modifiers, hotKeyID, GetApplicationEventTarget(), 0, &hotKeyRefs[id]);

    return (status == noErr) ? 1 : 0;
}

static void unregisterHotkey(int id) {
    if (id < 1 || id >= MAX_HOTKEYS || hotKeyRefs[id] == NULL) return;
    UnregisterEventHotKey(hotKeyRefs[id]);
    hotKeyRefs[id] = NULL;
}
*/
import "C"

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const maxHotkeys = 8

type darwinManager struct {
	log zerolog.Logger

	mu  sync.Mutex
	ids map[string]int
	cbs map[int]func(bool)
}

var (
	globalMu      sync.Mutex
	globalManager *darwinManager
)

// New creates a new macOS hotkey manager using Carbon
func New(log zerolog.Logger) (Manager, error) {
	mgr := &darwinManager{
		log: log.With().Str("component", "hotkey").Logger(),
		ids: make(map[string]int),
		cbs: make(map[int]func(bool)),
	}

	globalMu.Lock()
	globalManager = mgr
	globalMu.Unlock()

	return mgr, nil
}

//export goHotkeyCallback
func goHotkeyCallback(id C.int, pressed C.int) {
	globalMu.Lock()
	m := globalManager
	globalMu.Unlock()
	if m == nil {
		return
	}

	m.mu.Lock()
	cb := m.cbs[int(id)]
	m.mu.Unlock()
	if cb != nil {
		cb(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	acc, err := Parse(accel)
	if err != nil {
		return err
	}
	keyCode, modifiers, ok := acc.Carbon()
	if !ok {
		return fmt.Errorf("key %s has no macOS key code", acc)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.freeID()
	if id == 0 {
		return fmt.Errorf("too many hotkeys registered")
	}
	if C.registerHotkey(C.int(id), C.UInt32(keyCode), C.UInt32(modifiers)) == 0 {
		return fmt.Errorf("failed to register hotkey %s", acc)
	}

	m.ids[acc.String()] = id
	m.cbs[id] = callback
	m.log.Info().Str("hotkey", acc.String()).Msg("Hotkey registered")
	return nil
}

func (m *darwinManager) freeID() int {
	for id := 1; id < maxHotkeys; id++ {
		if _, used := m.cbs[id]; !used {
			return id
		}
	}
	return 0
}

func (m *darwinManager) Unregister(accel string) error {
	acc, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.ids[acc.String()]
	if !ok {
		return nil
	}
	C.unregisterHotkey(C.int(id))
	delete(m.ids, acc.String())
	delete(m.cbs, id)
	return nil
}

func (m *darwinManager) Close() error {
	m.mu.Lock()
	for _, id := range m.ids {
		C.unregisterHotkey(C.int(id))
	}
	m.ids = map[string]int{}
	m.cbs = map[int]func(bool){}
	m.mu.Unlock()

	globalMu.Lock()
	if globalManager == m {
		globalManager = nil
	}
	globalMu.Unlock()
	return nil
}
