// Package persistence stores species and catch samples in SQLite and serves
// them as a model.SampleSource.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Store wraps a SQLite connection holding species and samples.
type Store struct {
	conn    *sqlx.DB
	catalog *model.Catalog
}

var _ model.SampleSource = (*Store)(nil)

// Open opens or creates a SQLite database at path. Species parameters are
// resolved by name against catalog; a nil catalog knows only model.Heading.
func Open(path string, catalog *model.Catalog) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if catalog == nil {
		catalog = model.NewCatalog()
	}

	s := &Store{conn: conn, catalog: catalog}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS species (
		name TEXT PRIMARY KEY,
		max_daily_distance REAL NOT NULL,
		perception_radius REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS species_parameters (
		species TEXT NOT NULL REFERENCES species(name) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		parameter TEXT NOT NULL,
		weight REAL,
		PRIMARY KEY (species, parameter)
	);

	CREATE TABLE IF NOT EXISTS samples (
		id TEXT PRIMARY KEY,
		species TEXT NOT NULL REFERENCES species(name),
		caught_at INTEGER NOT NULL,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		value REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_samples_species ON samples(species);
	CREATE INDEX IF NOT EXISTS idx_samples_caught_at ON samples(caught_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

type speciesRow struct {
	Name             string  `db:"name"`
	MaxDailyDistance float64 `db:"max_daily_distance"`
	PerceptionRadius float64 `db:"perception_radius"`
}

type parameterRow struct {
	Species   string          `db:"species"`
	Parameter string          `db:"parameter"`
	Weight    sql.NullFloat64 `db:"weight"`
}

type sampleRow struct {
	ID       string  `db:"id"`
	Species  string  `db:"species"`
	CaughtAt int64   `db:"caught_at"`
	Lon      float64 `db:"lon"`
	Lat      float64 `db:"lat"`
	Value    float64 `db:"value"`
}

// SaveSpecies inserts or replaces species along with their parameter lists
// and weights.
func (s *Store) SaveSpecies(ctx context.Context, species ...*model.Species) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sp := range species {
		if sp == nil || sp.Name == "" {
			return fmt.Errorf("species name is required")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO species (name, max_daily_distance, perception_radius)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				max_daily_distance = excluded.max_daily_distance,
				perception_radius = excluded.perception_radius`,
			sp.Name, sp.MaxDailyDistance, sp.PerceptionRadius); err != nil {
			return fmt.Errorf("save species %q: %w", sp.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM species_parameters WHERE species = ?", sp.Name); err != nil {
			return err
		}
		for i, p := range sp.Parameters {
			var weight sql.NullFloat64
			if w, ok := sp.Weights[p.Name]; ok {
				weight = sql.NullFloat64{Float64: w, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO species_parameters (species, position, parameter, weight) VALUES (?, ?, ?, ?)",
				sp.Name, i, p.Name, weight); err != nil {
				return fmt.Errorf("save species %q parameter %q: %w", sp.Name, p.Name, err)
			}
		}
	}
	return tx.Commit()
}

// SaveSamples inserts samples, generating IDs for samples without one. It
// returns the stored IDs in input order.
func (s *Store) SaveSamples(ctx context.Context, samples ...model.SampleEntry) ([]string, error) {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO samples
		(id, species, caught_at, lon, lat, value) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, len(samples))
	for i, e := range samples {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Species, e.Time.UnixNano(), e.Position.Lon, e.Position.Lat, e.Value); err != nil {
			return nil, fmt.Errorf("save sample %s: %w", e.ID, err)
		}
		ids[i] = e.ID
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Species implements model.SampleSource. Parameters unknown to the catalog
// fail with model.ErrNoSuchParameter.
func (s *Store) Species(ctx context.Context) ([]*model.Species, error) {
	var rows []speciesRow
	if err := s.conn.SelectContext(ctx, &rows,
		"SELECT name, max_daily_distance, perception_radius FROM species ORDER BY name"); err != nil {
		return nil, fmt.Errorf("load species: %w", err)
	}
	var params []parameterRow
	if err := s.conn.SelectContext(ctx, &params,
		"SELECT species, parameter, weight FROM species_parameters ORDER BY species, position"); err != nil {
		return nil, fmt.Errorf("load species parameters: %w", err)
	}

	byName := make(map[string]*model.Species, len(rows))
	out := make([]*model.Species, 0, len(rows))
	for _, r := range rows {
		sp := &model.Species{
			Name:             r.Name,
			MaxDailyDistance: r.MaxDailyDistance,
			PerceptionRadius: r.PerceptionRadius,
		}
		byName[r.Name] = sp
		out = append(out, sp)
	}

	var errs []error
	for _, r := range params {
		sp, ok := byName[r.Species]
		if !ok {
			continue
		}
		p := s.catalog.Get(r.Parameter)
		if p == nil {
			errs = append(errs, fmt.Errorf("species %q: %w: %s", r.Species, model.ErrNoSuchParameter, r.Parameter))
			continue
		}
		sp.Parameters = append(sp.Parameters, p)
		if r.Weight.Valid {
			if sp.Weights == nil {
				sp.Weights = make(map[string]float64)
			}
			sp.Weights[p.Name] = r.Weight.Float64
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Samples implements model.SampleSource, ordered by catch time.
func (s *Store) Samples(ctx context.Context) ([]model.SampleEntry, error) {
	return s.samples(ctx, "SELECT id, species, caught_at, lon, lat, value FROM samples ORDER BY caught_at, id")
}

// SamplesBetween returns samples caught in [from, to).
func (s *Store) SamplesBetween(ctx context.Context, from, to time.Time) ([]model.SampleEntry, error) {
	return s.samples(ctx, `SELECT id, species, caught_at, lon, lat, value FROM samples
		WHERE caught_at >= ? AND caught_at < ? ORDER BY caught_at, id`, from.UnixNano(), to.UnixNano())
}

func (s *Store) samples(ctx context.Context, query string, args ...any) ([]model.SampleEntry, error) {
	var rows []sampleRow
	if err := s.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	out := make([]model.SampleEntry, len(rows))
	for i, r := range rows {
		out[i] = model.SampleEntry{
			ID:       r.ID,
			Species:  r.Species,
			Time:     time.Unix(0, r.CaughtAt).UTC(),
			Position: core.Point{Lon: r.Lon, Lat: r.Lat},
			Value:    r.Value,
		}
	}
	return out, nil
}
