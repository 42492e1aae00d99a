package repokit

import (
	"context"
	"errors"
	"testing"
	"time"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	"github.com/nuxxor/Mevzubase/internal/platform/testkit"
)

type recordingQ struct {
	stmts []string
}

func (r *recordingQ) Exec(_ context.Context, sql string, _ ...any) (store.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	return nil, nil
}
func (r *recordingQ) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (r *recordingQ) QueryRow(context.Context, string, ...any) store.Row        { return nil }
func (r *recordingQ) Tx(_ context.Context, fn func(store.RowQuerier) error) error {
	return fn(r)
}

func TestWithBeginHooks_RunsHooksBeforeFn(t *testing.T) {
	t.Parallel()

	q := &recordingQ{}
	tx := WithBeginHooks(q, LockTimeout(1500*time.Millisecond), StatementTimeout(0), StatementTimeout(2*time.Second))
	err := WithTx(context.Background(), tx, func(inner Queryer) error {
		_, err := inner.Exec(context.Background(), "UPDATE queue")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx = %v", err)
	}
	want := []string{"SET LOCAL lock_timeout = '1500ms'", "SET LOCAL statement_timeout = '2000ms'", "UPDATE queue"}
	if len(q.stmts) != len(want) {
		t.Fatalf("statements = %#v", q.stmts)
	}
	for i := range want {
		if q.stmts[i] != want[i] {
			t.Fatalf("statements = %#v", q.stmts)
		}
	}
}

type failingTx struct{ err error }

func (f failingTx) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (f failingTx) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (f failingTx) QueryRow(context.Context, string, ...any) store.Row             { return nil }
func (f failingTx) Tx(context.Context, func(store.RowQuerier) error) error         { return f.err }

func TestWithTx_ClassifiesCommitFailures(t *testing.T) {
	t.Parallel()

	err := WithTx(context.Background(), failingTx{errors.New("commit unexpectedly resulted in rollback")}, nil)
	if perr.CodeOf(err) != perr.ErrorCodeDB || !perr.Retryable(err) {
		t.Fatalf("commit rollback: code=%v retryable=%v", perr.CodeOf(err), perr.Retryable(err))
	}

	coded := perr.InvalidArgf("no doc id")
	if err := WithTx(context.Background(), failingTx{coded}, nil); err != coded {
		t.Fatalf("coded error should pass through, got %v", err)
	}
}

func TestWithBeginHooks_HookErrorStopsFn(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	called := false
	tx := WithBeginHooks(&recordingQ{}, func(context.Context, Queryer) error { return boom })
	err := tx.Tx(context.Background(), func(Queryer) error { called = true; return nil })
	if !errors.Is(err, boom) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

type stringBinder struct{}

func (stringBinder) Bind(Queryer) string { return "bound" }

func TestMustBind(t *testing.T) {
	t.Parallel()

	var b stringBinder
	if got := MustBind[string](b, &recordingQ{}); got != "bound" {
		t.Fatalf("MustBind = %q", got)
	}
	testkit.MustPanic(t, func() { MustBind[string](b, nil) })
}

type guardFn func(context.Context) error

func (g guardFn) Guard(ctx context.Context) error { return g(ctx) }

func TestMustGuard(t *testing.T) {
	t.Parallel()

	var sawDeadline bool
	MustGuard(context.Background(), guardFn(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}))
	if !sawDeadline {
		t.Fatalf("MustGuard should add a default deadline")
	}
	testkit.MustPanic(t, func() {
		MustGuard(context.Background(), guardFn(func(context.Context) error { return errors.New("pg down") }))
	})
}
