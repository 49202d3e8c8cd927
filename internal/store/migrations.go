package store

import "fmt"

type migration struct {
	name      string
	statement string
}

// migrations run in order, each at most once. Times are stored as unix
// milliseconds so range predicates compare integers.
func getMigrations() []migration {
	return []migration{
		{"001_create_venues", `
			CREATE TABLE IF NOT EXISTS venues (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				city TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT ''
			)`},
		{"002_create_organizers", `
			CREATE TABLE IF NOT EXISTS organizers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				slug TEXT NOT NULL DEFAULT ''
			)`},
		{"003_create_categories", `
			CREATE TABLE IF NOT EXISTS categories (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				slug TEXT NOT NULL UNIQUE,
				color TEXT NOT NULL DEFAULT ''
			)`},
		{"004_create_events", `
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				start_at INTEGER NOT NULL,
				end_at INTEGER NOT NULL,
				timezone TEXT NOT NULL DEFAULT 'UTC',
				status TEXT NOT NULL DEFAULT 'DRAFT',
				is_online INTEGER NOT NULL DEFAULT 0,
				price_cents INTEGER,
				is_featured INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				deleted_at INTEGER,
				venue_id TEXT REFERENCES venues(id) ON DELETE SET NULL,
				organizer_id TEXT REFERENCES organizers(id) ON DELETE SET NULL
			)`},
		{"005_index_events_window", `CREATE INDEX IF NOT EXISTS idx_events_window ON events (start_at, end_at)`},
		{"006_index_events_created", `CREATE INDEX IF NOT EXISTS idx_events_created ON events (created_at)`},
		{"007_create_event_categories", `
			CREATE TABLE IF NOT EXISTS event_categories (
				event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
				PRIMARY KEY (event_id, category_id)
			)`},
		{"008_create_event_translations", `
			CREATE TABLE IF NOT EXISTS event_translations (
				event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				locale TEXT NOT NULL CHECK (locale IN ('sv', 'fi', 'en')),
				title TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				UNIQUE (event_id, locale)
			)`},
		{"009_index_events_slug", `CREATE INDEX IF NOT EXISTS idx_events_slug ON events (slug)`},
		{"010_index_organizers_slug", `CREATE INDEX IF NOT EXISTS idx_organizers_slug ON organizers (slug)`},
	}
}

// migrate runs pending migrations inside one transaction.
func (s *SQLite) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			run_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range getMigrations() {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM _migrations WHERE name = ?`, m.name).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.Exec(m.statement); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations (name) VALUES (?)`, m.name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
	}

	return tx.Commit()
}
