// Package i18n picks the per-locale text of an event.
package i18n

import (
	"strings"

	"evcal/internal/model"
)

// Locales supported by the calendar.
const (
	LocaleSV = "sv"
	LocaleFI = "fi"
	LocaleEN = "en"
)

// DefaultOrder is the fallback chain used when none is configured.
var DefaultOrder = []string{LocaleSV, LocaleFI, LocaleEN}

// IsValid reports whether l is one of the supported locales.
func IsValid(l string) bool {
	switch l {
	case LocaleSV, LocaleFI, LocaleEN:
		return true
	}
	return false
}

// Normalize lowercases and trims l, returning "" for unsupported values.
func Normalize(l string) string {
	l = strings.ToLower(strings.TrimSpace(l))
	if !IsValid(l) {
		return ""
	}
	return l
}

// DisplayTag maps a locale to the BCP 47 tag used for date formatting.
func DisplayTag(l string) string {
	switch l {
	case LocaleSV:
		return "sv-SE"
	case LocaleFI:
		return "fi-FI"
	default:
		return "en-GB"
	}
}

// Text is the resolved title/description pair.
type Text struct {
	Title       string
	Description string
	// Locale is the translation that won; empty when the defaults were used.
	Locale string
}

// Resolver resolves event text through an ordered fallback chain.
type Resolver struct {
	// Order is tried after the requested locale. Nil means DefaultOrder.
	Order []string
	// SkipEmptyTitle makes a translation with an empty title ineligible, so
	// the chain moves on to the next locale. When false such a translation
	// still wins and only its empty fields fall back to the event defaults.
	SkipEmptyTitle bool
}

// NewResolver builds a resolver from a configured order, dropping
// unsupported and duplicate entries.
func NewResolver(order []string, skipEmptyTitle bool) *Resolver {
	clean := make([]string, 0, len(order))
	for _, l := range order {
		if l = Normalize(l); l != "" && !contains(clean, l) {
			clean = append(clean, l)
		}
	}
	if len(clean) == 0 {
		clean = append(clean, DefaultOrder...)
	}
	return &Resolver{Order: clean, SkipEmptyTitle: skipEmptyTitle}
}

// FallbackOrder returns the locales to try for requested: requested first
// when it is supported, then the configured order, without duplicates.
func (r *Resolver) FallbackOrder(requested string) []string {
	base := r.order()
	out := make([]string, 0, len(base)+1)
	if req := Normalize(requested); req != "" {
		out = append(out, req)
	}
	for _, l := range base {
		if !contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// Resolve returns the text to render for requested. It never fails: with no
// matching translation the defaults come back unchanged.
func (r *Resolver) Resolve(defaultTitle, defaultDescription string, translations []model.Translation, requested string) Text {
	for _, loc := range r.FallbackOrder(requested) {
		t, ok := find(translations, loc)
		if !ok {
			continue
		}
		if r.SkipEmptyTitle && strings.TrimSpace(t.Title) == "" {
			continue
		}
		out := Text{Title: t.Title, Description: t.Description, Locale: loc}
		if out.Title == "" {
			out.Title = defaultTitle
		}
		if out.Description == "" {
			out.Description = defaultDescription
		}
		return out
	}
	return Text{Title: defaultTitle, Description: defaultDescription}
}

// Localize applies Resolve to an event.
func (r *Resolver) Localize(e model.Event, requested string) model.LocalizedEvent {
	txt := r.Resolve(e.Title, e.Description, e.Translations, requested)
	e.Title = txt.Title
	e.Description = txt.Description
	return model.LocalizedEvent{Event: e, Locale: txt.Locale}
}

// MissingLocales lists the configured locales that have no translation.
func (r *Resolver) MissingLocales(translations []model.Translation) []string {
	var out []string
	for _, l := range r.order() {
		if _, ok := find(translations, l); !ok {
			out = append(out, l)
		}
	}
	return out
}

func (r *Resolver) order() []string {
	if r == nil || len(r.Order) == 0 {
		return DefaultOrder
	}
	return r.Order
}

func find(translations []model.Translation, locale string) (model.Translation, bool) {
	for _, t := range translations {
		if t.Locale == locale {
			return t, true
		}
	}
	return model.Translation{}, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
