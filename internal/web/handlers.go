package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"evcal/internal/calendar"
	"evcal/internal/filter"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/query"
	"evcal/internal/zone"
)

const (
	outcomeHeader = "X-Evcal-Outcome"
	cacheHeader   = "X-Evcal-Cache"

	contentJSON     = "application/json; charset=utf-8"
	contentCalendar = "text/calendar; charset=utf-8"
)

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
	errDegraded   = errors.New("event store unavailable")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// response is a rendered body ready to be cached or written.
type response struct {
	contentType string
	body        []byte
	outcome     query.Outcome
}

func jsonResponse(v any, outcome query.Outcome) (response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return response{}, err
	}
	return response{contentType: contentJSON, body: append(b, '\n'), outcome: outcome}, nil
}

type renderFunc func(r *http.Request) (response, error)

// public serves a render through the response cache. Only complete (OK)
// results are stored so a degraded answer is never replayed.
func (s *Server) public(render renderFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := s.cacheKey(r)

		if v, ok, err := s.deps.Cache.Get(ctx, key); err != nil {
			appLog.Warn("response cache get failed", "key", key, "error", err.Error())
		} else if ok {
			if ct, body, found := bytes.Cut(v, []byte{'\n'}); found {
				w.Header().Set(cacheHeader, "hit")
				w.Header().Set(outcomeHeader, query.OutcomeOK.String())
				writeBody(w, http.StatusOK, string(ct), body)
				return
			}
		}

		resp, err := render(r)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if resp.outcome == query.OutcomeOK {
			v := append([]byte(resp.contentType+"\n"), resp.body...)
			if err := s.deps.Cache.Set(ctx, key, v); err != nil {
				appLog.Warn("response cache set failed", "key", key, "error", err.Error())
			}
		}
		w.Header().Set(cacheHeader, "miss")
		w.Header().Set(outcomeHeader, resp.outcome.String())
		writeBody(w, http.StatusOK, resp.contentType, resp.body)
	}
}

// cacheKey is the path plus the sorted query string, stamped with today's
// date in UTC and in the request zone. Defaults such as the current month,
// today's day view and quick presets resolve against those dates.
func (s *Server) cacheKey(r *http.Request) string {
	q := r.URL.Query()
	now := s.deps.Now()
	loc := s.cfg.Location()
	if tz := strings.TrimSpace(q.Get("tz")); tz != "" {
		if l, err := zone.Load(tz); err == nil {
			loc = l
		}
	}
	return r.URL.Path + "?" + q.Encode() + "#" +
		now.UTC().Format(time.DateOnly) + "/" + now.In(loc).Format(time.DateOnly)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest),
		errors.Is(err, calendar.ErrInvalidMonth),
		errors.Is(err, calendar.ErrInvalidWeekStart),
		errors.Is(err, zone.ErrInvalidTimeZone),
		errors.Is(err, filter.ErrInvalidFilterValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseSpec parses filter terms. Public callers get unusable terms dropped;
// they are only logged.
func (s *Server) parseSpec(r *http.Request, p filter.Profile) filter.Spec {
	spec, err := filter.Parse(r.URL.Query(), filter.ParseOptions{
		Profile:    p,
		Now:        s.deps.Now(),
		ServerZone: s.cfg.Location(),
	})
	if err != nil {
		appLog.Debug("filter terms dropped", "path", r.URL.Path, "error", err.Error())
	}
	return spec
}

func (s *Server) handleEvents(r *http.Request) (response, error) {
	spec := s.parseSpec(r, filter.ProfileAPI)
	res := s.deps.Querier.Query(r.Context(), spec, "")
	return jsonResponse(res, res.Outcome)
}

// handleEvent returns one public event by slug. Drafts and soft-deleted
// events are not found.
func (s *Server) handleEvent(r *http.Request) (response, error) {
	slug := mux.Vars(r)["slug"]
	spec := s.parseSpec(r, filter.ProfileAPI)
	spec.Slug = slug
	spec.Page, spec.PageSize = 1, 1

	res := s.deps.Querier.Query(r.Context(), spec, "")
	if len(res.Items) == 0 {
		if res.Outcome == query.OutcomeDegraded {
			return response{}, errDegraded
		}
		return response{}, fmt.Errorf("%w: event %q", errNotFound, slug)
	}
	return jsonResponse(res.Items[0], res.Outcome)
}

type groupResponse struct {
	Organizer string `json:"organizer"`
	query.Result
}

// handleGroupEvents lists an organizer's events that have not ended yet.
func (s *Server) handleGroupEvents(r *http.Request) (response, error) {
	slug := mux.Vars(r)["slug"]
	spec := s.parseSpec(r, filter.ProfileGroup)
	spec.Organizer = slug
	spec = spec.WithWindow(filter.Upcoming(s.deps.Now()))

	out := groupResponse{Organizer: slug}
	out.Result = s.deps.Querier.Query(r.Context(), spec, "")
	return jsonResponse(out, out.Outcome)
}

type listResponse struct {
	query.Result
	Window *zone.Window `json:"window,omitempty"`
}

// handleList defaults to the current UTC month when no date term is given.
func (s *Server) handleList(r *http.Request) (response, error) {
	spec := s.parseSpec(r, filter.ProfileList)
	out := listResponse{}
	if spec.From == nil && spec.To == nil && spec.QuickWindow == nil {
		now := s.deps.Now().UTC()
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		w := zone.Window{Start: first, End: first.AddDate(0, 1, 0).Add(-time.Millisecond)}
		spec = spec.WithWindow(w)
		out.Window = &w
	}
	out.Result = s.deps.Querier.Query(r.Context(), spec, "")
	return jsonResponse(out, out.Outcome)
}

func (s *Server) handleMonth(r *http.Request) (response, error) {
	q := r.URL.Query()
	now := s.deps.Now().UTC()
	year, err := intQuery(q, "y", now.Year())
	if err != nil {
		return response{}, err
	}
	month, err := intQuery(q, "m", int(now.Month()))
	if err != nil {
		return response{}, err
	}
	year, idx := calendar.NormalizeMonth(year, month)

	view, err := s.deps.Assembler.Month(r.Context(), s.parseSpec(r, filter.ProfileCalendar), year, idx)
	if err != nil {
		return response{}, err
	}
	return jsonResponse(view, view.Outcome)
}

func (s *Server) handleWeek(r *http.Request) (response, error) {
	anchor, err := dateQuery(r.URL.Query(), "d", s.deps.Now())
	if err != nil {
		return response{}, err
	}
	view, err := s.deps.Assembler.Week(r.Context(), s.parseSpec(r, filter.ProfileCalendar), anchor)
	if err != nil {
		return response{}, err
	}
	return jsonResponse(view, view.Outcome)
}

// handleDay accepts d=YYYY-MM-DD or y=&m=&d=.
func (s *Server) handleDay(r *http.Request) (response, error) {
	q := r.URL.Query()
	spec := s.parseSpec(r, filter.ProfileCalendar)

	var (
		y, d int
		m    time.Month
	)
	if q.Has("y") {
		now := s.deps.Now()
		var err error
		if y, err = intQuery(q, "y", now.Year()); err != nil {
			return response{}, err
		}
		mi, err := intQuery(q, "m", int(now.Month()))
		if err != nil {
			return response{}, err
		}
		if mi < 1 || mi > 12 {
			return response{}, badRequest("m=%d out of range", mi)
		}
		if d, err = intQuery(q, "d", now.Day()); err != nil {
			return response{}, err
		}
		m = time.Month(mi)
		if d < 1 || d > daysIn(y, m) {
			return response{}, badRequest("d=%d out of range", d)
		}
	} else {
		loc := spec.Zone
		if loc == nil {
			loc = time.UTC
		}
		t, err := dateQuery(q, "d", s.deps.Now().In(loc))
		if err != nil {
			return response{}, err
		}
		y, m, d = t.Date()
	}

	view, err := s.deps.Assembler.Day(r.Context(), spec, y, m, d)
	if err != nil {
		return response{}, err
	}
	return jsonResponse(view, view.Outcome)
}

// handleFeed exports the filtered page as ICS.
func (s *Server) handleFeed(r *http.Request) (response, error) {
	spec := s.parseSpec(r, filter.ProfileAPI)
	if !r.URL.Query().Has("pageSize") {
		spec.PageSize = filter.ProfileAPI.MaxPageSize
	}
	res := s.deps.Querier.Query(r.Context(), spec, "")

	var buf bytes.Buffer
	err := ics.WriteFeed(&buf, res.Items, ics.FeedOptions{
		Name:    "evcal",
		BaseURL: s.cfg.BaseURL,
		Now:     s.deps.Now(),
	})
	if err != nil {
		return response{}, err
	}
	return response{contentType: contentCalendar, body: buf.Bytes(), outcome: res.Outcome}, nil
}

type adminItem struct {
	model.LocalizedEvent
	MissingLocales []string `json:"missing_locales"`
}

type adminResponse struct {
	Items    []adminItem `json:"items"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
	Total    int         `json:"total"`
}

// handleAdminEvents lists events for moderation. Unlike the public routes an
// invalid tz is rejected, and nothing is cached.
func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	spec, err := filter.Parse(r.URL.Query(), filter.ParseOptions{
		Profile:    filter.ProfileAdmin,
		Now:        s.deps.Now(),
		ServerZone: s.cfg.Location(),
	})
	if errors.Is(err, zone.ErrInvalidTimeZone) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		appLog.Debug("admin filter terms dropped", "error", err.Error())
	}

	res := s.deps.Querier.Query(r.Context(), spec, "")
	out := adminResponse{Items: make([]adminItem, 0, len(res.Items)), Page: res.Page, PageSize: res.PageSize, Total: res.Total}
	for _, it := range res.Items {
		missing := s.deps.Resolver.MissingLocales(it.Translations)
		if missing == nil {
			missing = []string{}
		}
		out.Items = append(out.Items, adminItem{LocalizedEvent: it, MissingLocales: missing})
	}
	w.Header().Set(outcomeHeader, res.Outcome.String())
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, out)
}

func intQuery(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s=%q is not a number", key, v)
	}
	return n, nil
}

// dateQuery reads a YYYY-MM-DD parameter as midnight UTC of that date, or
// def's calendar date when absent.
func dateQuery(q url.Values, key string, def time.Time) (time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		y, m, d := def.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, badRequest("%s=%q is not YYYY-MM-DD", key, v)
	}
	return t, nil
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func writeBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		appLog.Error("failed to write response", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
