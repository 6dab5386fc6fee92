package dictionary

import (
	"strings"

	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Prefill
// ---------------------------------------------------------------------------

// PrefillOptions controls which units a dictionary hit may fill.
type PrefillOptions struct {
	// MaxLen is the longest source text treated as a UI token.
	MaxLen int
	// MaxWords is the largest word count treated as a UI token.
	MaxWords int
	// FillAll lifts the UI-token guard for the general layer, filling
	// every exact match.
	FillAll bool
}

// DefaultPrefillOptions returns the UI-token guards the prefill tool has
// always used.
func DefaultPrefillOptions() PrefillOptions {
	return PrefillOptions{MaxLen: 24, MaxWords: 4}
}

// PrefillStats summarizes one prefill run.
type PrefillStats struct {
	Total  int
	Filled int
	// PerLayer counts fills by the layer that resolved them.
	PerLayer map[string]int
}

// isShortToken gates ui/general fills: short, few words, no placeholder
// characters. A dictionary must never fill text that carries placeholders;
// those go to a real backend.
func isShortToken(text string, opts PrefillOptions) bool {
	t := strings.TrimSpace(text)
	if t == "" || len(t) > opts.MaxLen {
		return false
	}
	if strings.ContainsAny(t, "[]{}%") {
		return false
	}
	words := strings.Fields(strings.ReplaceAll(t, "\n", " "))
	return len(words) <= opts.MaxWords
}

// Prefill fills untranslated units from the layered dictionaries. Units
// that already carry a translation are left alone. Names-layer hits apply
// unconditionally (proper nouns must stay consistent at any length); ui
// and general hits respect the UI-token guard. Filled units are marked
// with the dictionary origin so the translate stage skips them.
func Prefill(units []*unit.TextUnit, dicts *Layered, opts PrefillOptions) PrefillStats {
	stats := PrefillStats{PerLayer: make(map[string]int)}
	for _, u := range units {
		stats.Total++
		if u.Translated() {
			continue
		}

		var hit Hit
		var ok bool
		if hit, ok = dicts.LookupLayer(LayerNames, u.Source); !ok {
			if !isShortToken(u.Source, opts) && !opts.FillAll {
				continue
			}
			if hit, ok = dicts.LookupLayer(LayerUI, u.Source); !ok {
				hit, ok = dicts.LookupLayer(LayerGeneral, u.Source)
			}
		}
		if !ok {
			continue
		}

		u.Translation = hit.Translation
		u.Origin = unit.OriginDictionary
		stats.Filled++
		stats.PerLayer[hit.Layer]++
	}
	return stats
}
