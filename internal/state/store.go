// Package state persists the step graph in SQL (SQLite or Postgres).
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/storage"
)

const DefaultMaxDataBytes = 1 << 20 // 1 MiB

// Store is a graph.Store backed by the steps table.
type Store struct {
	db           *sql.DB
	driver       string
	maxDataBytes int
	now          func() time.Time
}

var _ graph.Store = (*Store)(nil)

func NewStore(db *sql.DB, driver string) *Store {
	if driver == "" {
		driver = storage.DriverSQLite
	}
	return &Store{
		db:           db,
		driver:       driver,
		maxDataBytes: DefaultMaxDataBytes,
		now:          time.Now,
	}
}

const selectStep = "SELECT id, seq, type, inputs, data, created_at FROM steps"

// Get returns the step with id, or an error wrapping graph.ErrStepNotFound.
func (s *Store) Get(ctx context.Context, id string) (*graph.Step, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectStep+" WHERE id = ?;"), id)
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", graph.ErrStepNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read step %q: %w", id, err)
	}
	return step, nil
}

// List returns every step in creation order.
func (s *Store) List(ctx context.Context) ([]*graph.Step, error) {
	rows, err := s.db.QueryContext(ctx, selectStep+" ORDER BY seq ASC, id ASC;")
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*graph.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}

// Append inserts step with the next creation index. Every referenced id must
// already be stored; since ids are only ever added, this keeps the graph a
// DAG.
func (s *Store) Append(ctx context.Context, step *graph.Step) (*graph.Step, error) {
	if step == nil {
		return nil, fmt.Errorf("%w: step is nil", graph.ErrInvalidStep)
	}
	st := step.Clone()
	st.ID = strings.TrimSpace(st.ID)
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	inputs := st.Inputs
	if inputs == nil {
		inputs = map[string]graph.Ref{}
	}
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	var dataJSON sql.NullString
	if st.Data != nil {
		b, err := json.Marshal(st.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		if len(b) > s.maxDataBytes {
			return nil, fmt.Errorf("%w: literal data exceeds max size (%d bytes)", graph.ErrInvalidStep, s.maxDataBytes)
		}
		dataJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if lock := s.appendLock(); lock != "" {
		if _, err := tx.ExecContext(ctx, lock); err != nil {
			return nil, fmt.Errorf("lock steps: %w", err)
		}
	}

	exists, err := s.exists(ctx, tx, st.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: duplicate step id %q", graph.ErrInvalidStep, st.ID)
	}
	for _, name := range st.InputNames() {
		for _, id := range st.Inputs[name].IDs {
			ok, err := s.exists(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, graph.DanglingReference{StepID: st.ID, Param: name, MissingID: id}
			}
		}
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM steps;").Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("read max seq: %w", err)
	}
	st.Seq = maxSeq.Int64 + 1
	st.CreatedAt = s.now().UTC()

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO steps(id, seq, type, inputs, data, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`), st.ID, st.Seq, st.Type, string(inputsJSON), dataJSON, st.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return st, nil
}

func (s *Store) exists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.rebind("SELECT 1 FROM steps WHERE id = ?;"), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup step %q: %w", id, err)
	}
	return true, nil
}

// appendLock serializes appends so seq allocation and the duplicate check
// see every committed step. SQLite needs nothing: the pool holds one
// connection. The Postgres mode conflicts with itself but not with readers.
func (s *Store) appendLock() string {
	if s.driver != storage.DriverPostgres {
		return ""
	}
	return "LOCK TABLE steps IN SHARE ROW EXCLUSIVE MODE;"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != storage.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStep(row scanner) (*graph.Step, error) {
	var (
		st        graph.Step
		inputsRaw string
		dataRaw   sql.NullString
		createdAt string
	)
	if err := row.Scan(&st.ID, &st.Seq, &st.Type, &inputsRaw, &dataRaw, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputsRaw), &st.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs of %q: %w", st.ID, err)
	}
	if dataRaw.Valid {
		var d graph.Data
		if err := json.Unmarshal([]byte(dataRaw.String), &d); err != nil {
			return nil, fmt.Errorf("decode data of %q: %w", st.ID, err)
		}
		st.Data = &d
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %q: %w", st.ID, err)
	}
	st.CreatedAt = ts
	return &st, nil
}
