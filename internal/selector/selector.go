package selector

import (
	"sort"

	"github.com/petems/dictation-tray/internal/audio"
)

// Scored is a device with its preference score.
type Scored struct {
	audio.Device
	Score int
}

// Exclude is a set of device indexes to leave out of a selection.
type Exclude map[audio.Index]struct{}

// ExcludeOf builds an exclusion set.
func ExcludeOf(idx ...audio.Index) Exclude {
	ex := make(Exclude, len(idx))
	for _, i := range idx {
		ex[i] = struct{}{}
	}
	return ex
}

// Has reports whether idx is excluded. A nil set excludes nothing.
func (e Exclude) Has(idx audio.Index) bool {
	_, ok := e[idx]
	return ok
}

// Rank scores every device in snap and orders them by score descending,
// then name ascending.
func Rank(snap audio.Snapshot, prefs *PreferenceIndex) []Scored {
	return rank(snap.Devices(), prefs)
}

func rank(devs []audio.Device, prefs *PreferenceIndex) []Scored {
	out := make([]Scored, len(devs))
	for i, d := range devs {
		out[i] = Scored{Device: d, Score: prefs.Score(d.Name)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SelectBest picks the device to use from snap. The highest scoring
// non-excluded device wins when its score is positive. When nothing
// matches a preference the first remaining device in enumeration order is
// used. NoDevice is returned when no candidates remain.
func SelectBest(snap audio.Snapshot, prefs *PreferenceIndex, exclude Exclude) audio.Index {
	var candidates []audio.Device
	for _, d := range snap.Devices() {
		if !exclude.Has(d.Index) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return audio.NoDevice
	}

	ranked := rank(candidates, prefs)
	if ranked[0].Score > 0 {
		return ranked[0].Index
	}
	return candidates[0].Index
}
