// Package ledger keeps each tracked person's visited-country record: the
// manually entered set, the set detected from location data, and the current
// country. The exposed visited list is always the union of manual and
// detected; historical presence cannot be removed by manual action.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/observability"
)

// Snapshot is the host-facing view of one person's record.
type Snapshot struct {
	Person       string   `json:"person"`
	Visited      []string `json:"visited_countries"`
	VisitedNames []string `json:"visited_countries_names"`
	Manual       []string `json:"manual_countries"`
	Detected     []string `json:"detected_countries"`
	Current      string   `json:"current_country,omitempty"`
	Count        int      `json:"count"`
}

type record struct {
	manual   map[string]struct{}
	detected map[string]struct{}
	current  string
}

// Ledger stores per-person visit records, persisting manual and detected
// sets in SQLite. Current country is runtime state only.
type Ledger struct {
	db      *sql.DB
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	records map[string]*record
}

// New builds a Ledger and rehydrates every persisted record.
func New(db *sql.DB, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		db:      db,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		records: make(map[string]*record),
	}

	if err := l.loadSet("manual_countries", func(r *record, code string) { r.manual[code] = struct{}{} }); err != nil {
		return nil, err
	}
	if err := l.loadSet("detected_countries", func(r *record, code string) { r.detected[code] = struct{}{} }); err != nil {
		return nil, err
	}

	logger.Info("visit ledger loaded", "persons", len(l.records))
	return l, nil
}

func (l *Ledger) loadSet(table string, apply func(*record, string)) error {
	rows, err := l.db.Query(fmt.Sprintf(`SELECT person, code FROM %s`, table))
	if err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var person, code string
		if err := rows.Scan(&person, &code); err != nil {
			return fmt.Errorf("scan %s row: %w", table, err)
		}
		apply(l.ensure(person), code)
	}
	return rows.Err()
}

// ensure returns the record for person, creating it if needed.
// Callers must hold l.mu or be inside New.
func (l *Ledger) ensure(person string) *record {
	r, ok := l.records[person]
	if !ok {
		r = &record{
			manual:   make(map[string]struct{}),
			detected: make(map[string]struct{}),
		}
		l.records[person] = r
	}
	return r
}

// ApplyResolution adds a detected country for person. Idempotent; returns
// true when the country is new to the detected set.
func (l *Ledger) ApplyResolution(ctx context.Context, person, code string) (bool, error) {
	code = normalize(code)

	l.mu.Lock()
	r := l.ensure(person)
	_, known := r.detected[code]
	if !known {
		r.detected[code] = struct{}{}
	}
	l.mu.Unlock()

	if known {
		return false, nil
	}

	l.metrics.CountriesDetected.Inc()
	l.logger.Info("country detected", "person", person, "country", code)

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO detected_countries (person, code, first_seen) VALUES (?, ?, ?)`,
		person, code, l.clock.Now().Unix())
	if err != nil {
		return true, fmt.Errorf("persist detected country %s/%s: %w", person, code, err)
	}
	return true, nil
}

// ApplyCurrent records the person's current country. An empty code clears
// it (position unresolvable). A non-empty code also counts as a visit and is
// folded into the detected set. Returns whether the current country changed
// and whether the detected set grew.
func (l *Ledger) ApplyCurrent(ctx context.Context, person, code string) (changed, detected bool, err error) {
	code = normalize(code)

	l.mu.Lock()
	r := l.ensure(person)
	changed = r.current != code
	r.current = code
	l.mu.Unlock()

	if code == "" {
		return changed, false, nil
	}

	detected, err = l.ApplyResolution(ctx, person, code)
	return changed, detected, err
}

// AddManual adds a country to the person's manual set.
func (l *Ledger) AddManual(ctx context.Context, person, code string) error {
	code = normalize(code)

	l.mu.Lock()
	r := l.ensure(person)
	_, known := r.manual[code]
	if !known {
		r.manual[code] = struct{}{}
	}
	l.mu.Unlock()

	if known {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO manual_countries (person, code) VALUES (?, ?)`, person, code)
	if err != nil {
		return fmt.Errorf("persist manual country %s/%s: %w", person, code, err)
	}
	return nil
}

// RemoveManual removes a country from the person's manual set. Removing a
// code that was never added manually is a no-op; a country also present in
// the detected set remains visited.
func (l *Ledger) RemoveManual(ctx context.Context, person, code string) error {
	code = normalize(code)

	l.mu.Lock()
	r := l.ensure(person)
	_, known := r.manual[code]
	delete(r.manual, code)
	l.mu.Unlock()

	if !known {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM manual_countries WHERE person = ? AND code = ?`, person, code)
	if err != nil {
		return fmt.Errorf("remove manual country %s/%s: %w", person, code, err)
	}
	return nil
}

// SetManual replaces the person's manual set wholesale.
func (l *Ledger) SetManual(ctx context.Context, person string, codes []string) error {
	next := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		next[normalize(code)] = struct{}{}
	}

	l.mu.Lock()
	r := l.ensure(person)
	r.manual = next
	l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set manual countries for %s: %w", person, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manual_countries WHERE person = ?`, person); err != nil {
		return fmt.Errorf("clear manual countries for %s: %w", person, err)
	}
	for code := range next {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO manual_countries (person, code) VALUES (?, ?)`, person, code); err != nil {
			return fmt.Errorf("persist manual country %s/%s: %w", person, code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set manual countries for %s: %w", person, err)
	}
	return nil
}

// Visited returns the sorted union of the person's manual and detected sets.
func (l *Ledger) Visited(person string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensure(person).visited()
}

// Snapshot returns the full host-facing view of one person.
func (l *Ledger) Snapshot(person string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.ensure(person)
	visited := r.visited()
	return Snapshot{
		Person:       person,
		Visited:      visited,
		VisitedNames: domain.CountryNames(visited),
		Manual:       sortedKeys(r.manual),
		Detected:     sortedKeys(r.detected),
		Current:      r.current,
		Count:        len(visited),
	}
}

// RemovePerson destroys a person's record, memory and rows both. Called when
// the person's configuration is removed.
func (l *Ledger) RemovePerson(ctx context.Context, person string) error {
	l.mu.Lock()
	delete(l.records, person)
	l.mu.Unlock()

	for _, table := range []string{"manual_countries", "detected_countries"} {
		if _, err := l.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE person = ?`, table), person); err != nil {
			return fmt.Errorf("remove %s rows for %s: %w", table, person, err)
		}
	}
	return nil
}

func (r *record) visited() []string {
	union := make(map[string]struct{}, len(r.manual)+len(r.detected))
	for code := range r.manual {
		union[code] = struct{}{}
	}
	for code := range r.detected {
		union[code] = struct{}{}
	}
	return sortedKeys(union)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
