// Package diagramdb persists evolution diagrams in SQLite so sweeps can be
// listed, reloaded and extended later.
package diagramdb

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/evolution"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Store is a SQLite backed diagram store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for read only debugging tools.
func (s *Store) DB() *sql.DB { return s.db }

// MigrateUp applies every embedded migration not yet applied.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed; closing it would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, 0 if none.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Infof(monitoring.TagStore, "[migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// RunSummary describes a stored run.
type RunSummary struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          evolution.Status `json:"status"`
	Config          evolution.Config `json:"config"`
	TrajectoryCount int              `json:"trajectory_count"`
	StateCount      int              `json:"state_count"`
	ClassCount      int              `json:"class_count"`
}

type memberRecord struct {
	ID    string  `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// SaveRun stores d with the configuration and status it was built with and
// returns the new run id. Class attributes from attrs are stored alongside
// when attrs is non-nil.
func (s *Store) SaveRun(ctx context.Context, cfg evolution.Config, status evolution.Status, trajectoryCount int, d *evolution.Diagram, attrs *evolution.AttributeRegistry) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	eps := d.Epsilons()
	classes := d.Classes()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at_ns, status, config_json, trajectory_count, state_count, class_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UnixNano(), string(status), string(cfgJSON), trajectoryCount, len(eps), len(classes),
	); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for _, c := range classes {
		birth, _ := d.BirthMoment(c)
		var mergeEps sql.NullFloat64
		var into sql.NullInt64
		if m, ok := d.MergeMoment(c); ok {
			mergeEps = nullFloat(m)
			if to, ok := d.MergedInto(c); ok {
				into = sql.NullInt64{Int64: int64(to), Valid: true}
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO classes (run_id, class_id, birth_eps, merge_eps, merged_into) VALUES (?, ?, ?, ?, ?)`,
			id, c, birth, mergeEps, into,
		); err != nil {
			return "", fmt.Errorf("failed to insert class %d: %w", c, err)
		}
		if attrs == nil {
			continue
		}
		for name, v := range attrs.Evaluate(d, c) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO class_attributes (run_id, class_id, name, value) VALUES (?, ?, ?, ?)`,
				id, c, name, nullFloat(v),
			); err != nil {
				return "", fmt.Errorf("failed to insert attribute %s of class %d: %w", name, c, err)
			}
		}
	}

	for _, e := range eps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO states (run_id, epsilon) VALUES (?, ?)`, id, e); err != nil {
			return "", fmt.Errorf("failed to insert state %g: %w", e, err)
		}
		st, _ := d.State(e)
		for _, c := range st.Classes() {
			b, _ := st.Bundle(c)
			members := make([]memberRecord, 0, b.Size())
			for _, m := range b.Members() {
				members = append(members, memberRecord{ID: m.Parent.ID, Start: m.Start, End: m.End})
			}
			membersJSON, err := json.Marshal(members)
			if err != nil {
				return "", fmt.Errorf("failed to encode bundle: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO state_bundles (run_id, epsilon, class_id, member_count, members_json) VALUES (?, ?, ?, ?, ?)`,
				id, e, c, b.Size(), string(membersJSON),
			); err != nil {
				return "", fmt.Errorf("failed to insert bundle of class %d at %g: %w", c, e, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	monitoring.Infof(monitoring.TagStore, "saved run %s: %d states, %d classes", id, len(eps), len(classes))
	return id, nil
}

const runColumns = `run_id, created_at_ns, status, config_json, trajectory_count, state_count, class_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunSummary, error) {
	var (
		r       RunSummary
		created int64
		status  string
		cfgJSON string
	)
	if err := row.Scan(&r.ID, &created, &status, &cfgJSON, &r.TrajectoryCount, &r.StateCount, &r.ClassCount); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.Status = evolution.Status(status)
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of run %s: %w", r.ID, err)
	}
	return &r, nil
}

// GetRun returns the summary of run id.
func (s *Store) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at_ns DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteRun removes run id and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// LoadRun rebuilds the diagram of run id. Bundle members are resolved
// against trajectories by id; a member naming an unknown trajectory is an
// error.
func (s *Store) LoadRun(ctx context.Context, id string, trajectories []*trajectory.Trajectory) (*evolution.Diagram, *RunSummary, error) {
	summary, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*trajectory.Trajectory, len(trajectories))
	for _, t := range trajectories {
		byID[t.ID] = t
	}

	d := evolution.NewDiagram()
	states := make(map[float64]*evolution.State)
	epsRows, err := s.db.QueryContext(ctx, `SELECT epsilon FROM states WHERE run_id = ? ORDER BY epsilon`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query states: %w", err)
	}
	for epsRows.Next() {
		var e float64
		if err := epsRows.Scan(&e); err != nil {
			epsRows.Close()
			return nil, nil, err
		}
		states[e] = evolution.NewState(e)
	}
	epsRows.Close()
	if err := epsRows.Err(); err != nil {
		return nil, nil, err
	}

	bundleRows, err := s.db.QueryContext(ctx,
		`SELECT epsilon, class_id, members_json FROM state_bundles WHERE run_id = ? ORDER BY epsilon, class_id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query bundles: %w", err)
	}
	for bundleRows.Next() {
		var (
			e           float64
			class       int
			membersJSON string
		)
		if err := bundleRows.Scan(&e, &class, &membersJSON); err != nil {
			bundleRows.Close()
			return nil, nil, err
		}
		b, err := decodeBundle(membersJSON, byID)
		if err != nil {
			bundleRows.Close()
			return nil, nil, fmt.Errorf("class %d at %g: %w", class, e, err)
		}
		states[e].Put(class, b)
	}
	bundleRows.Close()
	if err := bundleRows.Err(); err != nil {
		return nil, nil, err
	}

	classRows, err := s.db.QueryContext(ctx,
		`SELECT class_id, birth_eps, merge_eps, merged_into FROM classes WHERE run_id = ? ORDER BY class_id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer classRows.Close()
	for classRows.Next() {
		var (
			class    int
			birth    float64
			mergeEps sql.NullFloat64
			into     sql.NullInt64
		)
		if err := classRows.Scan(&class, &birth, &mergeEps, &into); err != nil {
			return nil, nil, err
		}
		d.SetBirth(class, birth)
		if st, ok := states[birth]; ok {
			st.AddBirth(class)
		}
		if mergeEps.Valid && into.Valid {
			d.SetMerge(class, mergeEps.Float64, int(into.Int64))
			if st, ok := states[mergeEps.Float64]; ok {
				st.AddMerge(class, int(into.Int64))
			}
		}
	}
	if err := classRows.Err(); err != nil {
		return nil, nil, err
	}

	for _, st := range states {
		d.AddState(st)
	}
	return d, summary, nil
}

func decodeBundle(membersJSON string, byID map[string]*trajectory.Trajectory) (*bundle.Bundle, error) {
	var records []memberRecord
	if err := json.Unmarshal([]byte(membersJSON), &records); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	members := make([]trajectory.Subtrajectory, 0, len(records))
	for _, r := range records {
		t, ok := byID[r.ID]
		if !ok {
			return nil, fmt.Errorf("unknown trajectory %q", r.ID)
		}
		members = append(members, trajectory.Subtrajectory{Parent: t, Start: r.Start, End: r.End})
	}
	return bundle.New(members...), nil
}

// ClassAttributes returns the stored attributes of every class of run id.
// Undefined values are NaN.
func (s *Store) ClassAttributes(ctx context.Context, id string) (map[int]map[string]float64, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT class_id, name, value FROM class_attributes WHERE run_id = ? ORDER BY class_id, name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer rows.Close()

	out := make(map[int]map[string]float64)
	for rows.Next() {
		var (
			class int
			name  string
			value sql.NullFloat64
		)
		if err := rows.Scan(&class, &name, &value); err != nil {
			return nil, err
		}
		if out[class] == nil {
			out[class] = make(map[string]float64)
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		out[class][name] = v
	}
	return out, rows.Err()
}
