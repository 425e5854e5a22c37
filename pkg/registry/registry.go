// Package registry keeps trained models and a log of predictions in SQLite.
// Unlike a bare model record, a registry entry remembers the names of the
// metrics it was trained with, so loading it with a different metric list is
// detected.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"autothreshold/pkg/predictor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS models (
	name        TEXT PRIMARY KEY,
	metrics     TEXT NOT NULL,
	record      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
	id          TEXT PRIMARY KEY,
	model       TEXT NOT NULL,
	map_path    TEXT NOT NULL,
	threshold   REAL NOT NULL,
	converged   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS predictions_by_model ON predictions(model);
`

// ErrNotFound is returned when no model is stored under a name
var ErrNotFound = errors.New("model not found")

// Entry describes a stored model
type Entry struct {
	Name      string
	Metrics   []string
	Model     *predictor.Model
	CreatedAt time.Time
}

// Prediction is one logged prediction
type Prediction struct {
	ID        string
	Model     string
	MapPath   string
	Threshold float64
	Converged []bool
	CreatedAt time.Time
}

// Registry stores models and predictions in a SQLite database
type Registry struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the registry database at path
func Open(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Registry{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (r *Registry) Close() error {
	return r.db.Close()
}

// PutModel stores model under name, replacing any previous entry
func (r *Registry) PutModel(ctx context.Context, name string, metrics []string, model *predictor.Model) error {
	if err := model.Validate(len(metrics)); err != nil {
		return err
	}

	record, err := predictor.MarshalModel(model, predictor.FormatJSON)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	names, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO models (name, metrics, record, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			metrics = excluded.metrics,
			record = excluded.record,
			created_at = excluded.created_at`,
		name, string(names), string(record), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put model %s: %w", name, err)
	}

	r.logger.Info("stored model", zap.String("name", name), zap.Strings("metrics", metrics))
	return nil
}

// GetModel loads the model stored under name. metrics must match the names
// and order the model was stored with, otherwise a *predictor.FormatError is
// returned.
func (r *Registry) GetModel(ctx context.Context, name string, metrics []string) (*predictor.Model, error) {
	entry, err := r.entry(ctx, name)
	if err != nil {
		return nil, err
	}

	if !slices.Equal(entry.Metrics, metrics) {
		return nil, &predictor.FormatError{
			Path:   name,
			Reason: fmt.Sprintf("model was trained with metrics %v, not %v", entry.Metrics, metrics),
		}
	}
	return entry.Model, nil
}

func (r *Registry) entry(ctx context.Context, name string) (*Entry, error) {
	var names, record, created string
	err := r.db.QueryRowContext(ctx,
		`SELECT metrics, record, created_at FROM models WHERE name = ?`, name).
		Scan(&names, &record, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", name, err)
	}

	return decodeEntry(name, names, record, created)
}

func decodeEntry(name, names, record, created string) (*Entry, error) {
	e := &Entry{Name: name}
	if err := json.Unmarshal([]byte(names), &e.Metrics); err != nil {
		return nil, &predictor.FormatError{Path: name, Reason: "cannot decode metric names", Err: err}
	}

	model, err := predictor.UnmarshalModel([]byte(record), predictor.FormatJSON, len(e.Metrics))
	if err != nil {
		var fe *predictor.FormatError
		if errors.As(err, &fe) {
			fe.Path = name
		}
		return nil, err
	}
	e.Model = model

	e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("model %s: bad timestamp: %w", name, err)
	}
	return e, nil
}

// ListModels returns all stored models ordered by name
func (r *Registry) ListModels(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, metrics, record, created_at FROM models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var name, names, record, created string
		if err := rows.Scan(&name, &names, &record, &created); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		e, err := decodeEntry(name, names, record, created)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// RecordPrediction logs a prediction made with model, which is either the
// name of a stored model or the path of a model record
func (r *Registry) RecordPrediction(ctx context.Context, model, mapPath string, res *predictor.Result) (Prediction, error) {
	p := Prediction{
		ID:        uuid.New().String(),
		Model:     model,
		MapPath:   mapPath,
		Threshold: res.Threshold,
		Converged: append([]bool(nil), res.Converged...),
		CreatedAt: time.Now().UTC(),
	}

	converged, err := json.Marshal(p.Converged)
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal converged: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO predictions (id, model, map_path, threshold, converged, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Model, p.MapPath, p.Threshold, string(converged), p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Prediction{}, fmt.Errorf("record prediction: %w", err)
	}
	return p, nil
}

// Predictions returns the predictions logged for the named model, oldest first
func (r *Registry) Predictions(ctx context.Context, model string) ([]Prediction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, map_path, threshold, converged, created_at
		FROM predictions WHERE model = ? ORDER BY rowid`, model)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		p := Prediction{Model: model}
		var converged, created string
		if err := rows.Scan(&p.ID, &p.MapPath, &p.Threshold, &converged, &created); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if err := json.Unmarshal([]byte(converged), &p.Converged); err != nil {
			return nil, fmt.Errorf("prediction %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("prediction %s: bad timestamp: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
