package room

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EffectFunc renders one visual effect locally.
type EffectFunc func()

// EffectRegistry maps effect tags to locally registered triggers. Dispatch
// is an explicit lookup with a defined fallback for unknown tags — an
// unrecognized effect still yields its notice, it just renders nothing.
type EffectRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EffectFunc
	fallback func(tag string)
	logger   zerolog.Logger
}

// displayNames are the built-in effect tags and their notice names. Unknown
// tags fall back to a title-cased rendering of the tag itself.
var displayNames = map[string]string{
	"fireworks":     "Fireworks",
	"starry_sky":    "Galaxy",
	"confetti":      "Celebration",
	"hearts":        "Love",
	"bubbles":       "Bubbles",
	"snow":          "Snow",
	"rain":          "Rain",
	"sakura":        "Sakura",
	"lightning":     "Lightning",
	"matrix":        "Matrix",
	"stress_relief": "Destruction",
	"new_year":      "Happy New Year",
	"nudge":         "Nudge",
}

// NewEffectRegistry creates an empty registry whose fallback logs the
// unknown tag at debug level.
func NewEffectRegistry(logger zerolog.Logger) *EffectRegistry {
	lg := logger.With().Str("component", "effects").Logger()
	return &EffectRegistry{
		handlers: make(map[string]EffectFunc),
		logger:   lg,
		fallback: func(tag string) {
			lg.Debug().Str("effect", tag).Msg("no trigger registered for effect")
		},
	}
}

// Register binds a local trigger to an effect tag, replacing any previous one.
func (r *EffectRegistry) Register(tag string, fn EffectFunc) {
	r.mu.Lock()
	r.handlers[tag] = fn
	r.mu.Unlock()
}

// SetFallback replaces the unknown-tag handler.
func (r *EffectRegistry) SetFallback(fn func(tag string)) {
	r.mu.Lock()
	r.fallback = fn
	r.mu.Unlock()
}

// Trigger fires the handler for tag, or the fallback when none is registered.
func (r *EffectRegistry) Trigger(tag string) {
	r.mu.RLock()
	fn, ok := r.handlers[tag]
	fallback := r.fallback
	r.mu.RUnlock()
	if ok {
		fn()
		return
	}
	if fallback != nil {
		fallback(tag)
	}
}

// DisplayName resolves the notice name for an effect tag.
func (r *EffectRegistry) DisplayName(tag string) string {
	if name, ok := displayNames[tag]; ok {
		return name
	}
	words := strings.Split(tag, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Known returns the built-in effect tags, sorted.
func (r *EffectRegistry) Known() []string {
	tags := make([]string, 0, len(displayNames))
	for tag := range displayNames {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
