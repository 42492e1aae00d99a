package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"

	"github.com/jackc/pgx/v5"
)

type fakeTag int64

func (f fakeTag) String() string      { return "UPDATE" }
func (f fakeTag) RowsAffected() int64 { return int64(f) }

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dst ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dst {
		switch d := dst[i].(type) {
		case *int:
			*d = r.vals[i].(int)
		case *string:
			*d = r.vals[i].(string)
		}
	}
	return nil
}

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Next() bool            { r.i++; return r.i <= len(r.data) }
func (r *fakeRows) Scan(dst ...any) error { return fakeRow{vals: r.data[r.i-1]}.Scan(dst...) }
func (r *fakeRows) Err() error            { return nil }
func (r *fakeRows) Close()                {}
func (r *fakeRows) Columns() []string     { return nil }

type fakeQ struct {
	affected int64
	row      fakeRow
	rows     [][]any
}

func (f *fakeQ) Exec(context.Context, string, ...any) (CommandTag, error) {
	return fakeTag(f.affected), nil
}
func (f *fakeQ) Query(context.Context, string, ...any) (Rows, error) {
	return &fakeRows{data: f.rows}, nil
}
func (f *fakeQ) QueryRow(context.Context, string, ...any) Row { return f.row }

func TestExecOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if err := ExecOne(ctx, &fakeQ{affected: 1}, "UPDATE"); err != nil {
		t.Fatalf("ExecOne(1) = %v", err)
	}
	if err := ExecOne(ctx, &fakeQ{affected: 0}, "UPDATE"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("ExecOne(0) = %v, want not found", err)
	}
	if err := ExecOne(ctx, &fakeQ{affected: 3}, "UPDATE"); !perr.IsCode(err, perr.ErrorCodeDB) {
		t.Fatalf("ExecOne(3) = %v, want db error", err)
	}
}

func TestScalarAndNoRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	n, err := Scalar[int](ctx, &fakeQ{row: fakeRow{vals: []any{42}}}, "SELECT 42")
	if err != nil || n != 42 {
		t.Fatalf("Scalar = %d, %v", n, err)
	}
	_, err = Scalar[int](ctx, &fakeQ{row: fakeRow{err: pgx.ErrNoRows}}, "SELECT")
	if !errors.Is(err, perr.ErrNotFound) {
		t.Fatalf("Scalar no rows = %v", err)
	}
}

func TestMany(t *testing.T) {
	t.Parallel()

	q := &fakeQ{rows: [][]any{{"a"}, {"b"}}}
	got, err := Many(context.Background(), q, func(r Row) (string, error) {
		var s string
		return s, r.Scan(&s)
	}, "SELECT")
	if err != nil || strings.Join(got, ",") != "a,b" {
		t.Fatalf("Many = %v, %v", got, err)
	}
}

type pingTx struct {
	fakeQ
	err    error
	closed bool
}

func (p *pingTx) Tx(ctx context.Context, fn func(RowQuerier) error) error { return fn(p) }
func (p *pingTx) Ping(context.Context) error                              { return p.err }
func (p *pingTx) Close() error                                            { p.closed = true; return nil }

func TestGuardAndClose(t *testing.T) {
	t.Parallel()

	var nilStore *Store
	if nilStore.Guard(context.Background()) == nil {
		t.Fatalf("Guard on nil store should fail")
	}

	pgFake := &pingTx{err: errors.New("down")}
	s := &Store{PG: pgFake}
	if err := s.Guard(context.Background()); err == nil || !strings.Contains(err.Error(), "pg: down") {
		t.Fatalf("Guard = %v", err)
	}
	if err := s.Close(context.Background()); err != nil || !pgFake.closed {
		t.Fatalf("Close = %v closed=%v", err, pgFake.closed)
	}
	if err := (&Store{}).Guard(context.Background()); err != nil {
		t.Fatalf("empty store Guard = %v", err)
	}
}

func TestOpen_NoBackends(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{}, WithRole("ingest"))
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	if s.PG != nil || s.CH != nil || s.role != "ingest" {
		t.Fatalf("unexpected store %+v", s)
	}
}
