// Package pgsqltest provides scripted pgx.Tx doubles for store unit tests.
package pgsqltest

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call is one recorded Exec/Query/QueryRow.
type Call struct {
	SQL  string
	Args []any
}

// Tx answers queries from the hooks; nil hooks return empty results.
type Tx struct {
	OnExec     func(sql string, args []any) (pgconn.CommandTag, error)
	OnQuery    func(sql string, args []any) (pgx.Rows, error)
	OnQueryRow func(sql string, args []any) pgx.Row
	CommitErr  error

	Calls      []Call
	Committed  bool
	RolledBack bool
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *Tx) Commit(context.Context) error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.Committed = true
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("pgsqltest: CopyFrom not supported")
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.Calls = append(t.Calls, Call{SQL: sql, Args: args})
	if t.OnExec != nil {
		return t.OnExec(sql, args)
	}
	return pgconn.NewCommandTag("OK 1"), nil
}

func (t *Tx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.Calls = append(t.Calls, Call{SQL: sql, Args: args})
	if t.OnQuery != nil {
		return t.OnQuery(sql, args)
	}
	return &Rows{}, nil
}

func (t *Tx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.Calls = append(t.Calls, Call{SQL: sql, Args: args})
	if t.OnQueryRow != nil {
		return t.OnQueryRow(sql, args)
	}
	return Row{Err: pgx.ErrNoRows}
}

// Beginner hands out Tx, or BeginErr.
type Beginner struct {
	Tx       *Tx
	BeginErr error
}

func (b *Beginner) Begin(context.Context) (pgx.Tx, error) {
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	return b.Tx, nil
}

// Row scans Vals positionally into the destinations.
type Row struct {
	Vals []any
	Err  error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	return scanInto(r.Vals, dest)
}

// Rows iterates Data, one []any per row.
type Rows struct {
	Data    [][]any
	ScanErr error
	Error   error
	idx     int
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return r.Error }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) Values() ([]any, error)                       { return nil, nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.idx >= len(r.Data) {
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	if r.idx == 0 || r.idx > len(r.Data) {
		return errors.New("pgsqltest: Scan without row")
	}
	return scanInto(r.Data[r.idx-1], dest)
}

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("pgsqltest: %d values for %d destinations", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("pgsqltest: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		switch {
		case v.Type().AssignableTo(target.Type()):
			target.Set(v)
		case target.Kind() == reflect.Pointer && v.Type().AssignableTo(target.Type().Elem()):
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v)
			target.Set(p)
		case v.Type().ConvertibleTo(target.Type()):
			target.Set(v.Convert(target.Type()))
		default:
			return fmt.Errorf("pgsqltest: cannot scan %T into %s", vals[i], target.Type())
		}
	}
	return nil
}
