package inject

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
	"github.com/rs/zerolog"

	"github.com/petems/dictation-tray/internal/config"
)

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

type virtualKeyboard struct {
	kb keybd_event.KeyBonding
}

func (v *virtualKeyboard) PasteChord() error {
	v.kb.Clear()
	pasteModifier(&v.kb)
	v.kb.SetKeys(keybd_event.VK_V)
	return v.kb.Launching()
}

// Paster copies text to the clipboard and sends the paste chord.
type Paster struct {
	clip    Clipboard
	keys    Keyboard
	paste   bool
	settle  time.Duration
	restore time.Duration
	keysErr error
	log     zerolog.Logger
}

var _ Injector = (*Paster)(nil)

// New creates a Paster on the system clipboard. When the virtual keyboard
// cannot be created the Paster still copies text and reports
// ErrPasteUnavailable.
func New(cfg config.InjectConfig, log zerolog.Logger) *Paster {
	log = log.With().Str("component", "inject").Logger()

	var keys Keyboard
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		log.Warn().Err(err).Msg("Virtual keyboard unavailable, falling back to clipboard only")
	} else {
		keys = &virtualKeyboard{kb: kb}
	}

	p := NewWith(systemClipboard{}, keys, cfg.PreferPaste, log)
	p.keysErr = err
	return p
}

// NewWith creates a Paster from explicit clipboard and keyboard
// implementations. keys may be nil.
func NewWith(clip Clipboard, keys Keyboard, preferPaste bool, log zerolog.Logger) *Paster {
	return &Paster{
		clip:    clip,
		keys:    keys,
		paste:   preferPaste,
		settle:  50 * time.Millisecond,
		restore: 100 * time.Millisecond,
		log:     log,
	}
}

// Paste puts text on the clipboard and, when pasting is enabled, sends the
// paste chord and restores the previous clipboard contents.
func (p *Paster) Paste(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	oldClip, err := p.clip.ReadAll()
	if err != nil {
		oldClip = ""
	}

	if err := p.clip.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	if !p.paste {
		p.log.Debug().Int("chars", len(text)).Msg("Copied transcription to clipboard")
		return nil
	}
	if p.keys == nil {
		if p.keysErr != nil {
			return fmt.Errorf("%w: %w", ErrPasteUnavailable, p.keysErr)
		}
		return ErrPasteUnavailable
	}

	if err := sleep(ctx, p.settle); err != nil {
		return err
	}
	if err := p.keys.PasteChord(); err != nil {
		return fmt.Errorf("%w: %w", ErrPasteUnavailable, err)
	}
	if err := sleep(ctx, p.restore); err != nil {
		return err
	}

	// Restore only if the user hasn't copied something else meanwhile.
	if current, _ := p.clip.ReadAll(); current == text {
		if err := p.clip.WriteAll(oldClip); err != nil {
			p.log.Debug().Err(err).Msg("Failed to restore clipboard")
		}
	}

	p.log.Debug().Int("chars", len(text)).Msg("Pasted transcription")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
