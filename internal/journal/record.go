package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a record.
type Kind string

const (
	KindStart             Kind = "start"
	KindIntent            Kind = "intent"
	KindAction            Kind = "action"
	KindState             Kind = "state"
	KindException         Kind = "exception"
	KindUndeliveredIntent Kind = "undelivered_intent"
	KindUndeliveredAction Kind = "undelivered_action"
	KindSubscribers       Kind = "subscribers"
	KindStop              Kind = "stop"
)

// Run is one Start..Stopped cycle of an engine.
type Run struct {
	ID       string `json:"id"`
	Store    string `json:"store"`
	Seq      int64  `json:"seq"`
	Finished bool   `json:"finished"`
	Error    string `json:"error,omitempty"`
}

// Record is one journaled event of a run.
type Record struct {
	RunID   string
	Seq     int64
	Kind    Kind
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s record %d: %w", r.Kind, r.Seq, err)
	}
	return nil
}

// BeginRun registers a new run of the named store.
func (j *Journal) BeginRun(ctx context.Context, store string) (Run, error) {
	run := Run{
		ID:    j.ids.Generate(),
		Store: store,
		Seq:   j.clock.Next(),
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, store, seq) VALUES (?, ?, ?)
	`, run.ID, run.Store, run.Seq)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run as finished. A non-nil cause is stored as the
// run's error.
func (j *Journal) FinishRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished = 1, error = ? WHERE id = ?
	`, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %q: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Append stores payload (as JSON) under the next seq.
func (j *Journal) Append(ctx context.Context, runID string, kind Kind, payload any) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("append %s: marshal payload: %w", kind, err)
	}

	rec := Record{
		RunID:   runID,
		Seq:     j.clock.Next(),
		Kind:    kind,
		Payload: data,
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO records (run_id, seq, kind, payload) VALUES (?, ?, ?, ?)
	`, rec.RunID, rec.Seq, string(rec.Kind), string(rec.Payload))
	if err != nil {
		return Record{}, fmt.Errorf("append %s: %w", kind, err)
	}
	return rec, nil
}

// Records returns the records of a run ordered by seq. With kinds, only
// records of those kinds are returned.
//
// Returns an empty slice (not nil) when the run has no records.
func (j *Journal) Records(ctx context.Context, runID string, kinds ...Kind) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, kind, payload
		FROM records
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	records := []Record{}
	for rows.Next() {
		var rec Record
		var kind, payload string
		if err := rows.Scan(&rec.RunID, &rec.Seq, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Kind = Kind(kind)
		if len(want) > 0 && !want[rec.Kind] {
			continue
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Runs returns every run ordered by seq.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, store, seq, finished, error
		FROM runs
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with the given id.
func (j *Journal) GetRun(ctx context.Context, runID string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, store, seq, finished, error FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun(ctx context.Context) (Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, store, seq, finished, error FROM runs ORDER BY seq DESC LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	var finished int
	if err := s.Scan(&run.ID, &run.Store, &run.Seq, &finished, &run.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Finished = finished != 0
	return run, nil
}
