package inject

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClipboard struct {
	content string
	writes  []string
	failW   error
}

func (c *fakeClipboard) ReadAll() (string, error) { return c.content, nil }

func (c *fakeClipboard) WriteAll(text string) error {
	if c.failW != nil {
		return c.failW
	}
	c.writes = append(c.writes, text)
	c.content = text
	return nil
}

type fakeKeyboard struct {
	presses int
	err     error
	onPress func()
}

func (k *fakeKeyboard) PasteChord() error {
	k.presses++
	if k.onPress != nil {
		k.onPress()
	}
	return k.err
}

func newPaster(clip Clipboard, keys Keyboard, paste bool) *Paster {
	p := NewWith(clip, keys, paste, zerolog.Nop())
	p.settle, p.restore = 0, 0
	return p
}

func TestPasteSendsChordAndRestoresClipboard(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	keys := &fakeKeyboard{}

	require.NoError(t, newPaster(clip, keys, true).Paste(context.Background(), "hello world"))
	require.Equal(t, 1, keys.presses)
	require.Equal(t, []string{"hello world", "previous"}, clip.writes)
}

func TestPasteKeepsUserClipboardChanges(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	keys := &fakeKeyboard{onPress: func() { clip.content = "user copied this" }}

	require.NoError(t, newPaster(clip, keys, true).Paste(context.Background(), "hello"))
	require.Equal(t, "user copied this", clip.content)
}

func TestPasteDisabledOnlyCopies(t *testing.T) {
	clip := &fakeClipboard{}
	keys := &fakeKeyboard{}

	require.NoError(t, newPaster(clip, keys, false).Paste(context.Background(), "hello"))
	require.Zero(t, keys.presses)
	require.Equal(t, "hello", clip.content)
}

func TestPasteWithoutKeyboard(t *testing.T) {
	clip := &fakeClipboard{}

	err := newPaster(clip, nil, true).Paste(context.Background(), "hello")
	require.ErrorIs(t, err, ErrPasteUnavailable)
	require.Equal(t, "hello", clip.content)
}

func TestPasteChordFailure(t *testing.T) {
	clip := &fakeClipboard{}
	keys := &fakeKeyboard{err: errors.New("permission denied")}

	err := newPaster(clip, keys, true).Paste(context.Background(), "hello")
	require.ErrorIs(t, err, ErrPasteUnavailable)
	require.Contains(t, err.Error(), "permission denied")
	require.Equal(t, "hello", clip.content)
}

func TestPasteClipboardFailure(t *testing.T) {
	clip := &fakeClipboard{failW: errors.New("no display")}
	keys := &fakeKeyboard{}

	err := newPaster(clip, keys, true).Paste(context.Background(), "hello")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPasteUnavailable)
	require.Zero(t, keys.presses)
}

func TestPasteEmptyTextIsNoop(t *testing.T) {
	clip := &fakeClipboard{content: "keep"}
	keys := &fakeKeyboard{}

	require.NoError(t, newPaster(clip, keys, true).Paste(context.Background(), ""))
	require.Empty(t, clip.writes)
	require.Zero(t, keys.presses)
}

func TestPasteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clip := &fakeClipboard{}
	keys := &fakeKeyboard{}
	p := newPaster(clip, keys, true)
	p.settle = 50 * time.Millisecond

	require.ErrorIs(t, p.Paste(ctx, "hello"), context.Canceled)
	require.Zero(t, keys.presses)
}
