package i18n

import (
	"reflect"
	"testing"

	"evcal/internal/model"
)

func TestFallbackOrder(t *testing.T) {
	r := NewResolver(nil, false)
	tests := []struct {
		requested string
		want      []string
	}{
		{"", []string{"sv", "fi", "en"}},
		{"fi", []string{"fi", "sv", "en"}},
		{"sv", []string{"sv", "fi", "en"}},
		{"EN", []string{"en", "sv", "fi"}},
		{"de", []string{"sv", "fi", "en"}},
	}
	for _, tt := range tests {
		if got := r.FallbackOrder(tt.requested); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("FallbackOrder(%q) = %v, want %v", tt.requested, got, tt.want)
		}
	}
}

func TestFallbackOrderConfigured(t *testing.T) {
	r := NewResolver([]string{"en", "xx", "en", "fi"}, false)
	if got, want := r.FallbackOrder("sv"), []string{"sv", "en", "fi"}; !reflect.DeepEqual(got, want) {
		t.Errorf("FallbackOrder = %v, want %v", got, want)
	}
}

func TestResolveSkipsMissingRequested(t *testing.T) {
	r := NewResolver(nil, false)
	trans := []model.Translation{
		{Locale: "sv", Title: "A"},
		{Locale: "en", Title: "B"},
	}
	got := r.Resolve("Default", "", trans, "fi")
	if got.Title != "A" || got.Locale != "sv" {
		t.Errorf("Resolve = %+v, want title A from sv", got)
	}
}

func TestResolveRequestedWins(t *testing.T) {
	r := NewResolver(nil, false)
	trans := []model.Translation{
		{Locale: "sv", Title: "Svenska", Description: "sv desc"},
		{Locale: "en", Title: "English", Description: "en desc"},
	}
	got := r.Resolve("Default", "default desc", trans, "en")
	if got.Title != "English" || got.Description != "en desc" {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveNoTranslationsIsIdentity(t *testing.T) {
	r := NewResolver(nil, false)
	for _, req := range []string{"", "sv", "fi", "en", "zz"} {
		got := r.Resolve("Title", "Description", nil, req)
		if got.Title != "Title" || got.Description != "Description" || got.Locale != "" {
			t.Errorf("Resolve(%q) = %+v, want defaults", req, got)
		}
	}
}

func TestResolveDescriptionFallsBack(t *testing.T) {
	r := NewResolver(nil, false)
	got := r.Resolve("T", "default desc", []model.Translation{{Locale: "fi", Title: "Otsikko"}}, "fi")
	if got.Title != "Otsikko" || got.Description != "default desc" {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolveEmptyTitle(t *testing.T) {
	trans := []model.Translation{
		{Locale: "fi", Title: "", Description: "fi desc"},
		{Locale: "sv", Title: "Svensk titel"},
	}

	t.Run("accepted", func(t *testing.T) {
		r := NewResolver(nil, false)
		got := r.Resolve("Default", "", trans, "fi")
		if got.Locale != "fi" {
			t.Fatalf("locale = %q, want fi", got.Locale)
		}
		if got.Title != "Default" {
			t.Errorf("title = %q, want event default", got.Title)
		}
		if got.Description != "fi desc" {
			t.Errorf("description = %q", got.Description)
		}
	})

	t.Run("skipped", func(t *testing.T) {
		r := NewResolver(nil, true)
		got := r.Resolve("Default", "", trans, "fi")
		if got.Locale != "sv" || got.Title != "Svensk titel" {
			t.Errorf("Resolve = %+v, want sv translation", got)
		}
	})

	t.Run("skipped to defaults", func(t *testing.T) {
		r := NewResolver(nil, true)
		got := r.Resolve("Default", "d", []model.Translation{{Locale: "en", Title: "  "}}, "en")
		if got.Title != "Default" || got.Locale != "" {
			t.Errorf("Resolve = %+v, want defaults", got)
		}
	})
}

func TestLocalize(t *testing.T) {
	r := NewResolver(nil, false)
	e := model.Event{ID: "e1", Title: "Konsert", Translations: []model.Translation{{Locale: "en", Title: "Concert"}}}
	got := r.Localize(e, "en")
	if got.Title != "Concert" || got.Locale != "en" || got.ID != "e1" {
		t.Errorf("Localize = %+v", got)
	}
	if e.Title != "Konsert" {
		t.Error("Localize mutated its input")
	}
}

func TestMissingLocales(t *testing.T) {
	r := NewResolver(nil, false)
	got := r.MissingLocales([]model.Translation{{Locale: "fi", Title: "x"}})
	if want := []string{"sv", "en"}; !reflect.DeepEqual(got, want) {
		t.Errorf("MissingLocales = %v, want %v", got, want)
	}
}
