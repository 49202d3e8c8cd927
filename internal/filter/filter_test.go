package filter

import (
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"evcal/internal/model"
	"evcal/internal/store"
	"evcal/internal/zone"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		profile            Profile
		page, pageSize     int
		wantPage, wantSize int
	}{
		{ProfileAPI, 1, 500, 1, 100},
		{ProfileAPI, 0, 20, 1, 20},
		{ProfileAPI, -3, 0, 1, 1},
		{ProfileAdmin, 2, 0, 2, 10},
		{ProfileAdmin, 1, 5, 1, 10},
		{ProfileAdmin, 1, 101, 1, 100},
		{ProfileList, 4, 12, 4, 12},
		{ProfileAPI, math.MaxInt, 20, MaxPage, 20},
		{Profile{Name: "unbounded"}, math.MaxInt, math.MaxInt, 2, math.MaxInt},
	}
	for _, tt := range tests {
		page, size := tt.profile.Clamp(tt.page, tt.pageSize)
		if page != tt.wantPage || size != tt.wantSize {
			t.Errorf("%s.Clamp(%d, %d) = %d, %d, want %d, %d", tt.profile.Name,
				tt.page, tt.pageSize, page, size, tt.wantPage, tt.wantSize)
		}
	}
}

func TestParseDefaults(t *testing.T) {
	s, err := Parse(url.Values{}, ParseOptions{Profile: ProfileAPI})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Page != 1 || s.PageSize != 20 {
		t.Errorf("page = %d, pageSize = %d", s.Page, s.PageSize)
	}
	q := s.Query()
	if q.StatusRule != store.StatusPublic || q.Deleted != store.DeletedExclude {
		t.Errorf("status rule = %v, deleted = %v", q.StatusRule, q.Deleted)
	}
	if len(q.Windows) != 0 || q.Offset != 0 || q.Limit != 20 {
		t.Errorf("query = %+v", q)
	}

	admin, err := Parse(url.Values{}, ParseOptions{Profile: ProfileAdmin})
	if err != nil {
		t.Fatal(err)
	}
	if admin.PageSize != 50 || admin.Query().Order != store.OrderCreatedDesc || admin.Query().StatusRule != store.StatusAny {
		t.Errorf("admin spec = %+v", admin)
	}
}

func TestParsePaging(t *testing.T) {
	tests := []struct {
		raw                string
		profile            Profile
		wantPage, wantSize int
		wantOffset         int
	}{
		{"pageSize=500", ProfileAPI, 1, 100, 0},
		{"pageSize=0", ProfileAdmin, 1, 10, 0},
		{"page=0", ProfileAPI, 1, 20, 0},
		{"page=3&pageSize=5", ProfileAPI, 3, 5, 10},
		{"page=abc&pageSize=x", ProfileList, 1, 12, 0},
		{"page=500000000000000000", ProfileAPI, MaxPage, 20, (MaxPage - 1) * 20},
		{"page=9223372036854775807&pageSize=100", ProfileAdmin, MaxPage, 100, (MaxPage - 1) * 100},
	}
	for _, tt := range tests {
		v, _ := url.ParseQuery(tt.raw)
		s, err := Parse(v, ParseOptions{Profile: tt.profile})
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.raw, err)
		}
		if s.Page != tt.wantPage || s.PageSize != tt.wantSize || s.Query().Offset != tt.wantOffset {
			t.Errorf("%s: page %d size %d offset %d", tt.raw, s.Page, s.PageSize, s.Query().Offset)
		}
	}
}

func TestParseDropsInvalidTerms(t *testing.T) {
	v := url.Values{
		"q":       {"jazz"},
		"from":    {"yesterday"},
		"to":      {"2024-06-30"},
		"quick":   {"fortnight"},
		"locale":  {"de"},
		"status":  {"BOGUS"},
		"missing": {"fi"},
	}
	s, err := Parse(v, ParseOptions{Profile: ProfileAPI})
	if !errors.Is(err, ErrInvalidFilterValue) {
		t.Fatalf("err = %v, want ErrInvalidFilterValue", err)
	}
	if s.Keyword != "jazz" {
		t.Errorf("keyword = %q", s.Keyword)
	}
	if s.From != nil {
		t.Errorf("from = %v, want dropped", s.From)
	}
	if s.To == nil || !s.To.Equal(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", s.To)
	}
	if s.Quick != zone.PresetNone || s.QuickWindow != nil {
		t.Errorf("quick = %q", s.Quick)
	}
	if s.Locale != "" || s.Status != "" {
		t.Errorf("locale = %q, status = %q", s.Locale, s.Status)
	}
	if s.MissingLocale != "" {
		t.Errorf("missing honoured for public profile")
	}
}

func TestParseInvalidTimeZone(t *testing.T) {
	now := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	v := url.Values{"tz": {"Mars/Olympus"}, "quick": {"today"}}
	s, err := Parse(v, ParseOptions{Profile: ProfileAPI, Now: now, ServerZone: time.UTC})
	if !errors.Is(err, zone.ErrInvalidTimeZone) {
		t.Fatalf("err = %v, want ErrInvalidTimeZone", err)
	}
	if errors.Is(err, ErrInvalidFilterValue) {
		t.Errorf("tz failure also reported as invalid value")
	}
	if s.Zone != nil {
		t.Errorf("zone = %v, want nil", s.Zone)
	}
	if s.QuickWindow == nil {
		t.Fatal("quick preset dropped with the zone")
	}
	if want := zone.DayBounds(2024, time.June, 12, time.UTC); *s.QuickWindow != want {
		t.Errorf("quick window = %+v, want server-zone %+v", *s.QuickWindow, want)
	}
}

func TestParseZoneAppliesToDates(t *testing.T) {
	v := url.Values{"tz": {"Europe/Helsinki"}, "from": {"2024-06-15"}, "to": {"2024-06-15T23:59:59.999+03:00"}}
	s, err := Parse(v, ParseOptions{Profile: ProfileAPI})
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC); !s.From.Equal(want) {
		t.Errorf("from = %v, want %v", s.From, want)
	}
	if want := time.Date(2024, 6, 15, 20, 59, 59, 999e6, time.UTC); !s.To.Equal(want) {
		t.Errorf("to = %v, want %v", s.To, want)
	}
}

func TestParseFlags(t *testing.T) {
	v, _ := url.ParseQuery("free=1&online&featured=false&deleted=1")
	s, err := Parse(v, ParseOptions{Profile: ProfileAPI})
	if err != nil {
		t.Fatal(err)
	}
	if !s.FreeOnly || !s.OnlineOnly || s.FeaturedOnly {
		t.Errorf("flags = free %v online %v featured %v", s.FreeOnly, s.OnlineOnly, s.FeaturedOnly)
	}
	if s.IncludeDeleted {
		t.Error("deleted honoured for public profile")
	}

	admin, err := Parse(v, ParseOptions{Profile: ProfileAdmin})
	if err != nil {
		t.Fatal(err)
	}
	if q := admin.Query(); q.Deleted != store.DeletedOnly {
		t.Errorf("admin deleted rule = %v", q.Deleted)
	}
}

func TestOffsetNeverNegative(t *testing.T) {
	for _, s := range []Spec{
		{Page: math.MaxInt, PageSize: 100},
		{Page: math.MaxInt / 2, PageSize: 3},
		{Page: 5, PageSize: 0},
		{Page: -1, PageSize: 20},
	} {
		if off := s.Offset(); off < 0 {
			t.Errorf("Spec{Page: %d, PageSize: %d}.Offset() = %d", s.Page, s.PageSize, off)
		}
	}
}

func TestParseSlugAndOrganizer(t *testing.T) {
	v, _ := url.ParseQuery("organizer=%20jazz-club%20")
	s, err := Parse(v, ParseOptions{Profile: ProfileGroup})
	if err != nil {
		t.Fatal(err)
	}
	if s.Organizer != "jazz-club" || s.PageSize != 8 {
		t.Errorf("organizer = %q pageSize = %d", s.Organizer, s.PageSize)
	}
	if q := s.Query(); q.OrganizerSlug != "jazz-club" || q.Slug != "" {
		t.Errorf("query = %+v", q)
	}

	one, err := New(WithSlug("jazz-night"), WithOrganizer("jazz-club"))
	if err != nil {
		t.Fatal(err)
	}
	if q := one.Query(); q.Slug != "jazz-night" || q.OrganizerSlug != "jazz-club" || q.StatusRule != store.StatusPublic {
		t.Errorf("query = %+v", q)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := Parse(url.Values{"status": {"draft"}}, ParseOptions{Profile: ProfileAPI})
	if !errors.Is(err, ErrInvalidFilterValue) || s.Status != "" {
		t.Errorf("public draft: status %q, err %v", s.Status, err)
	}
	if q := s.Query(); q.StatusRule != store.StatusPublic {
		t.Errorf("public status rule = %v", q.StatusRule)
	}

	s, err = Parse(url.Values{"status": {"live"}}, ParseOptions{Profile: ProfileAPI})
	if err != nil || s.Status != model.StatusLive {
		t.Errorf("public live: status %q, err %v", s.Status, err)
	}

	s, err = Parse(url.Values{"status": {"DRAFT"}}, ParseOptions{Profile: ProfileAdmin})
	if err != nil {
		t.Fatal(err)
	}
	if q := s.Query(); q.StatusRule != store.StatusExact || q.Status != model.StatusDraft {
		t.Errorf("admin query = %+v", q)
	}
}

func TestParseAdminTerms(t *testing.T) {
	v := url.Values{"missing": {"FI"}, "createdFrom": {"2024-01-01"}, "createdTo": {"not-a-date"}, "q": {"meetup"}}
	s, err := Parse(v, ParseOptions{Profile: ProfileAdmin})
	if !errors.Is(err, ErrInvalidFilterValue) {
		t.Fatalf("err = %v", err)
	}
	q := s.Query()
	if q.MissingLocale != "fi" || q.CreatedFrom == nil || q.CreatedTo != nil {
		t.Errorf("query = %+v", q)
	}
	if !q.KeywordInSlug {
		t.Error("admin keyword does not search slug")
	}
}

func TestParseQuickAndRangeAreAnded(t *testing.T) {
	// Wednesday 2024-06-12.
	now := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	v := url.Values{"quick": {"weekend"}, "tz": {"Europe/Stockholm"}, "from": {"2024-06-01"}}
	s, err := Parse(v, ParseOptions{Profile: ProfileAPI, Now: now})
	if err != nil {
		t.Fatal(err)
	}
	q := s.Query()
	if len(q.Windows) != 2 {
		t.Fatalf("windows = %+v", q.Windows)
	}
	if !q.Windows[0].End.Equal(farFuture) {
		t.Errorf("open range end = %v", q.Windows[0].End)
	}
	wk := q.Windows[1]
	if wk.Start.In(s.Zone).Weekday() != time.Friday || wk.Start.In(s.Zone).Day() != 14 {
		t.Errorf("weekend start = %v", wk.Start.In(s.Zone))
	}
}

func TestSpecWithWindowDoesNotAlias(t *testing.T) {
	base, err := New()
	if err != nil {
		t.Fatal(err)
	}
	a := base.WithWindow(zone.DayBounds(2024, time.June, 1, nil))
	b := a.WithWindow(zone.DayBounds(2024, time.June, 2, nil))
	c := a.WithWindow(zone.DayBounds(2024, time.June, 3, nil))
	if len(base.Windows) != 0 || len(a.Windows) != 1 {
		t.Fatalf("lengths base %d a %d", len(base.Windows), len(a.Windows))
	}
	if b.Windows[1] == c.Windows[1] {
		t.Error("WithWindow results share backing storage")
	}
}

func TestNew(t *testing.T) {
	s, err := New(
		WithProfile(ProfileAdmin),
		WithKeyword("jazz"),
		WithZone("Europe/Helsinki"),
		WithDateStrings("2024-06-01", "2024-06-30"),
		WithStatus(model.StatusDraft),
		WithDeleted(),
		WithPage(0, 500),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Page != 1 || s.PageSize != 100 {
		t.Errorf("paging = %d/%d", s.Page, s.PageSize)
	}
	if want := time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC); !s.From.Equal(want) {
		t.Errorf("from = %v, want %v", s.From, want)
	}
	q := s.Query()
	if q.StatusRule != store.StatusExact || q.Deleted != store.DeletedOnly {
		t.Errorf("query = %+v", q)
	}

	pub, err := New(WithStatus(model.StatusDraft), WithDeleted())
	if err != nil {
		t.Fatal(err)
	}
	if q := pub.Query(); q.StatusRule != store.StatusPublic || q.Deleted != store.DeletedExclude {
		t.Errorf("public query = %+v", q)
	}
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"malformed date", []Option{WithDateStrings("06/15/2024", "")}, ErrInvalidFilterValue},
		{"from after to", []Option{WithDateStrings("2024-07-01", "2024-06-01")}, ErrInvalidFilterValue},
		{"bad zone", []Option{WithZone("Nowhere/City")}, zone.ErrInvalidTimeZone},
		{"bad preset", []Option{WithQuick(zone.Preset("someday"))}, ErrInvalidFilterValue},
	}
	for _, tt := range tests {
		if _, err := New(tt.opts...); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}
