package ics

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"evcal/internal/model"
)

type FeedOptions struct {
	ProductID string
	Name      string
	// BaseURL, when set, gives every VEVENT a URL of BaseURL/api/events/<slug>.
	BaseURL string
	Now     time.Time
}

// WriteFeed writes items as a published VCALENDAR.
func WriteFeed(w io.Writer, items []model.LocalizedEvent, opts FeedOptions) error {
	if opts.ProductID == "" {
		opts.ProductID = "-//evcal//events//EN"
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, e := range items {
		ve := cal.AddEvent(e.ID + "@evcal")
		ve.SetDtStampTime(opts.Now.UTC())
		if !e.CreatedAt.IsZero() {
			ve.SetCreatedTime(e.CreatedAt.UTC())
		}
		if !e.UpdatedAt.IsZero() {
			ve.SetModifiedAt(e.UpdatedAt.UTC())
		}
		ve.SetStartAt(e.StartAt.UTC())
		ve.SetEndAt(e.EndAt.UTC())
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if loc := venueText(e.Venue); loc != "" {
			ve.SetLocation(loc)
		}
		if opts.BaseURL != "" && e.Slug != "" {
			ve.SetURL(strings.TrimRight(opts.BaseURL, "/") + "/api/events/" + e.Slug)
		}
		ve.SetStatus(objectStatus(e.Status))
		for _, c := range e.Categories {
			ve.AddProperty(propCategories, c.Name)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func venueText(v *model.Venue) string {
	if v == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{v.Name, v.City, v.Country} {
		if p != "" && (len(parts) == 0 || !strings.EqualFold(p, parts[0])) {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func objectStatus(s model.Status) ical.ObjectStatus {
	switch s {
	case model.StatusCancelled:
		return ical.ObjectStatusCancelled
	case model.StatusDraft:
		return ical.ObjectStatusTentative
	default:
		return ical.ObjectStatusConfirmed
	}
}
