package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"evcal/internal/model"
)

const driverName = "sqlite3_evcal"

var registerOnce sync.Once

// registerDriver installs a sqlite3 driver with a Unicode-aware lower()
// replacement. SQLite's built-in LOWER only folds ASCII, which would miss
// "Ä" vs "ä" in Swedish and Finnish venue names.
func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("evcal_lower", strings.ToLower, true)
			},
		})
	})
}

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates, if needed) the database at path and runs
// migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	registerDriver()

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single connection; it also keeps an
	// in-memory database alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const eventColumns = `
	e.id, e.slug, e.title, e.description, e.start_at, e.end_at, e.timezone,
	e.status, e.is_online, e.price_cents, e.is_featured,
	e.created_at, e.updated_at, e.deleted_at,
	v.id, v.name, v.city, v.country,
	o.id, o.name, o.slug`

const eventFrom = `
	FROM events e
	LEFT JOIN venues v ON v.id = e.venue_id
	LEFT JOIN organizers o ON o.id = e.organizer_id`

// Find implements Reader.
func (s *SQLite) Find(ctx context.Context, q Query) ([]model.Event, error) {
	where, args := buildWhere(q)

	order := "e.start_at ASC, e.id ASC"
	if q.Order == OrderCreatedDesc {
		order = "e.created_at DESC, e.id ASC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + eventColumns + eventFrom + where +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find events: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", ErrUnavailable, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %w", ErrUnavailable, err)
	}
	if len(events) == 0 {
		return events, nil
	}

	if err := s.loadCategories(ctx, events); err != nil {
		return nil, fmt.Errorf("%w: load categories: %w", ErrUnavailable, err)
	}
	if q.WithTranslations {
		if err := s.loadTranslations(ctx, events); err != nil {
			return nil, fmt.Errorf("%w: load translations: %w", ErrSchemaMismatch, err)
		}
	}
	return events, nil
}

// Count implements Reader.
func (s *SQLite) Count(ctx context.Context, q Query) (int, error) {
	where, args := buildWhere(q)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+eventFrom+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count events: %w", ErrUnavailable, err)
	}
	return n, nil
}

// buildWhere compiles the predicates of q into a WHERE clause.
func buildWhere(q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, a ...any) {
		conds = append(conds, cond)
		args = append(args, a...)
	}

	if q.Keyword != "" {
		kw := strings.ToLower(q.Keyword)
		cond := "instr(evcal_lower(e.title), ?) > 0 OR instr(evcal_lower(e.description), ?) > 0"
		a := []any{kw, kw}
		if q.KeywordInSlug {
			cond += " OR instr(evcal_lower(e.slug), ?) > 0"
			a = append(a, kw)
		}
		add("("+cond+")", a...)
	}
	if q.Location != "" {
		loc := strings.ToLower(q.Location)
		add(`(v.id IS NOT NULL AND (
			instr(evcal_lower(v.name), ?) > 0 OR
			instr(evcal_lower(v.city), ?) > 0 OR
			instr(evcal_lower(v.country), ?) > 0))`, loc, loc, loc)
	}
	for _, w := range q.Windows {
		add("e.end_at >= ? AND e.start_at <= ?", toMillis(w.Start), toMillis(w.End))
	}
	if q.Slug != "" {
		add("e.slug = ?", q.Slug)
	}
	if q.OrganizerSlug != "" {
		add("o.slug = ?", q.OrganizerSlug)
	}
	if q.Category != "" {
		add(`EXISTS (
			SELECT 1 FROM event_categories ec
			JOIN categories c ON c.id = ec.category_id
			WHERE ec.event_id = e.id AND c.slug = ?)`, q.Category)
	}
	if q.FreeOnly {
		add("(e.price_cents IS NULL OR e.price_cents = 0)")
	}
	if q.OnlineOnly {
		add("e.is_online = 1")
	}
	if q.FeaturedOnly {
		add("e.is_featured = 1")
	}
	switch q.StatusRule {
	case StatusPublic:
		add("e.status <> ?", string(model.StatusDraft))
	case StatusExact:
		add("e.status = ?", string(q.Status))
	}
	switch q.Deleted {
	case DeletedExclude:
		add("e.deleted_at IS NULL")
	case DeletedOnly:
		add("e.deleted_at IS NOT NULL")
	}
	if q.MissingLocale != "" {
		add(`NOT EXISTS (
			SELECT 1 FROM event_translations t
			WHERE t.event_id = e.id AND t.locale = ?)`, q.MissingLocale)
	}
	if q.CreatedFrom != nil {
		add("e.created_at >= ?", toMillis(*q.CreatedFrom))
	}
	if q.CreatedTo != nil {
		add("e.created_at <= ?", toMillis(*q.CreatedTo))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var (
		e                       model.Event
		status                  string
		startAt, endAt          int64
		createdAt, updatedAt    int64
		price, deletedAt        sql.NullInt64
		isOnline, isFeatured    bool
		venueID, venueName      sql.NullString
		venueCity, venueCountry sql.NullString
		orgID, orgName, orgSlug sql.NullString
	)
	if err := r.Scan(
		&e.ID, &e.Slug, &e.Title, &e.Description, &startAt, &endAt, &e.Timezone,
		&status, &isOnline, &price, &isFeatured,
		&createdAt, &updatedAt, &deletedAt,
		&venueID, &venueName, &venueCity, &venueCountry,
		&orgID, &orgName, &orgSlug,
	); err != nil {
		return model.Event{}, err
	}

	e.Status = model.Status(status)
	e.StartAt = fromMillis(startAt)
	e.EndAt = fromMillis(endAt)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	e.IsOnline = isOnline
	e.IsFeatured = isFeatured
	if price.Valid {
		p := price.Int64
		e.PriceCents = &p
	}
	if deletedAt.Valid {
		t := fromMillis(deletedAt.Int64)
		e.DeletedAt = &t
	}
	if venueID.Valid {
		e.Venue = &model.Venue{ID: venueID.String, Name: venueName.String, City: venueCity.String, Country: venueCountry.String}
	}
	if orgID.Valid {
		e.Organizer = &model.Organizer{ID: orgID.String, Name: orgName.String, Slug: orgSlug.String}
	}
	e.Categories = []model.Category{}
	return e, nil
}

func (s *SQLite) loadCategories(ctx context.Context, events []model.Event) error {
	in, args, index := idList(events)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ec.event_id, c.id, c.name, c.slug, c.color
		FROM event_categories ec
		JOIN categories c ON c.id = ec.category_id
		WHERE ec.event_id IN (`+in+`)
		ORDER BY c.name, c.slug`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var eventID string
		var c model.Category
		if err := rows.Scan(&eventID, &c.ID, &c.Name, &c.Slug, &c.Color); err != nil {
			return err
		}
		i := index[eventID]
		events[i].Categories = append(events[i].Categories, c)
	}
	return rows.Err()
}

func (s *SQLite) loadTranslations(ctx context.Context, events []model.Event) error {
	in, args, index := idList(events)
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, locale, title, description
		FROM event_translations
		WHERE event_id IN (`+in+`)
		ORDER BY locale`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Translation
		if err := rows.Scan(&t.EventID, &t.Locale, &t.Title, &t.Description); err != nil {
			return err
		}
		i := index[t.EventID]
		events[i].Translations = append(events[i].Translations, t)
	}
	return rows.Err()
}

// idList returns "?,?,..." for the event IDs plus an ID → slice index map.
func idList(events []model.Event) (string, []any, map[string]int) {
	args := make([]any, len(events))
	index := make(map[string]int, len(events))
	for i, e := range events {
		args[i] = e.ID
		index[e.ID] = i
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(events)), ","), args, index
}

// UpsertEvents implements Writer.
func (s *SQLite) UpsertEvents(ctx context.Context, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if err := upsertEvent(ctx, tx, e); err != nil {
			return fmt.Errorf("upsert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func upsertEvent(ctx context.Context, tx *sql.Tx, e model.Event) error {
	var venueID, orgID any
	if e.Venue != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO venues (id, name, city, country) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, city = excluded.city, country = excluded.country`,
			e.Venue.ID, e.Venue.Name, e.Venue.City, e.Venue.Country); err != nil {
			return err
		}
		venueID = e.Venue.ID
	}
	if e.Organizer != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizers (id, name, slug) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, slug = excluded.slug`,
			e.Organizer.ID, e.Organizer.Name, e.Organizer.Slug); err != nil {
			return err
		}
		orgID = e.Organizer.ID
	}

	now := time.Now().UTC()
	created, updated := e.CreatedAt, e.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	var price, deleted any
	if e.PriceCents != nil {
		price = *e.PriceCents
	}
	if e.DeletedAt != nil {
		deleted = toMillis(*e.DeletedAt)
	}
	status := e.Status
	if status == "" {
		status = model.StatusDraft
	}
	tz := e.Timezone
	if tz == "" {
		tz = "UTC"
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, slug, title, description, start_at, end_at, timezone, status,
			is_online, price_cents, is_featured, created_at, updated_at, deleted_at, venue_id, organizer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug, title = excluded.title, description = excluded.description,
			start_at = excluded.start_at, end_at = excluded.end_at, timezone = excluded.timezone,
			status = excluded.status, is_online = excluded.is_online, price_cents = excluded.price_cents,
			is_featured = excluded.is_featured, updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at, venue_id = excluded.venue_id, organizer_id = excluded.organizer_id`,
		e.ID, e.Slug, e.Title, e.Description, toMillis(e.StartAt), toMillis(e.EndAt), tz, string(status),
		e.IsOnline, price, e.IsFeatured, toMillis(created), toMillis(updated), deleted, venueID, orgID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_categories WHERE event_id = ?`, e.ID); err != nil {
		return err
	}
	for _, c := range e.Categories {
		catID, err := upsertCategory(ctx, tx, c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO event_categories (event_id, category_id) VALUES (?, ?)`, e.ID, catID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_translations WHERE event_id = ?`, e.ID); err != nil {
		return err
	}
	for _, t := range e.Translations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_translations (event_id, locale, title, description) VALUES (?, ?, ?, ?)`,
			e.ID, t.Locale, t.Title, t.Description); err != nil {
			return err
		}
	}
	return nil
}

// upsertCategory keys categories by slug and returns the stored ID.
func upsertCategory(ctx context.Context, tx *sql.Tx, c model.Category) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE slug = ?`, c.Slug).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = c.ID
		if id == "" {
			id = c.Slug
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO categories (id, name, slug, color) VALUES (?, ?, ?, ?)`,
			id, c.Name, c.Slug, c.Color)
		return id, err
	case err != nil:
		return "", err
	}
	_, err = tx.ExecContext(ctx, `UPDATE categories SET name = ?, color = ? WHERE id = ?`, c.Name, c.Color, id)
	return id, err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
