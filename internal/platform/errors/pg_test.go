package errors

import (
	stderrs "errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func pg(code, col, constraint string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		ColumnName:     col,
		ConstraintName: constraint,
	}
}

func TestDBErrorCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code string
		want ErrorCode
	}{
		{"23505", ErrorCodeDuplicateKey},
		{"23503", ErrorCodeInvalidArgument},
		{"23502", ErrorCodeValidation},
		{"23514", ErrorCodeValidation},
		{"22P02", ErrorCodeInvalidArgument},
		{"22021", ErrorCodeInvalidArgument},
		{"55P03", ErrorCodeTimeout},
		{"57014", ErrorCodeTimeout},
		{"40001", ErrorCodeDB},
		{"40P01", ErrorCodeDB},
		{"25006", ErrorCodeUnavailable},
		{"57P01", ErrorCodeUnavailable},
		{"53300", ErrorCodeUnavailable},
		{"08006", ErrorCodeUnavailable},
		{"XXXXX", ErrorCodeDB},
	}
	for _, c := range cases {
		got, ok := DBErrorCode(pg(c.code, "", ""))
		if !ok {
			t.Fatalf("expected ok for PgError code %s", c.code)
		}
		if got != c.want {
			t.Fatalf("DBErrorCode(%s) = %v, want %v", c.code, got, c.want)
		}
	}
	if _, ok := DBErrorCode(stderrs.New("nope")); ok {
		t.Fatalf("DBErrorCode should return ok=false for non-pg error")
	}
}

func TestFromPostgres_QueueSemantics(t *testing.T) {
	t.Parallel()

	if FromPostgres(nil, "x") != nil {
		t.Fatalf("FromPostgres(nil) should be nil")
	}

	// a lock timeout on checkout is retried later, a bad payload is not
	lock := FromPostgres(pg("55P03", "", ""), "checkout")
	if CodeOf(lock) != ErrorCodeTimeout || !Retryable(lock) {
		t.Fatalf("lock timeout: code=%v retryable=%v", CodeOf(lock), Retryable(lock))
	}
	bad := FromPostgres(pg("22P02", "", ""), "enqueue")
	if CodeOf(bad) != ErrorCodeInvalidArgument || Retryable(bad) {
		t.Fatalf("bad payload: code=%v retryable=%v", CodeOf(bad), Retryable(bad))
	}
	plain := FromPostgres(stderrs.New("boom"), "runs")
	if CodeOf(plain) != ErrorCodeDB {
		t.Fatalf("non-pg error code = %v", CodeOf(plain))
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"40001", "40P01", "55P03", "57014", "08006"} {
		if !IsRetryable(pg(code, "", "")) {
			t.Fatalf("%s should be retryable", code)
		}
	}
	if IsRetryable(pg("23505", "", "")) {
		t.Fatalf("23505 should not be retryable")
	}
	if IsRetryable(stderrs.New("nope")) {
		t.Fatalf("plain error should not be retryable")
	}
	if !IsRetryable(stderrs.New("commit unexpectedly resulted in rollback")) {
		t.Fatalf("rolled back commit should be retryable")
	}
}
