package pg

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nuxxor/Mevzubase/internal/platform/testkit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func TestOpen_ParseError(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{URL: "://bad"}, nil, nil); err == nil {
		t.Fatalf("expected parse error, got nil")
	}
}

func TestOpen_NewPoolError(t *testing.T) {
	testkit.Serial(t)
	testkit.Swap(t, &newPool, func(context.Context, *pgxpool.Config) (*pgxpool.Pool, error) {
		return nil, errors.New("boom")
	})

	if _, err := Open(context.Background(), Config{URL: "postgres://u:p@h:5432/db"}, nil, nil); err == nil {
		t.Fatalf("expected newPool error, got nil")
	}
}

func TestOpen_AppliesRuntimeParams(t *testing.T) {
	testkit.Serial(t)

	var seen *pgxpool.Config
	testkit.Swap(t, &newPool, func(_ context.Context, pc *pgxpool.Config) (*pgxpool.Pool, error) {
		seen = pc
		return &pgxpool.Pool{}, nil
	})

	cfg := Config{
		URL:                "postgres://u:p@h:5432/db?sslmode=disable",
		MaxConns:           7,
		SlowMs:             250,
		AppName:            "mevzubase-ingest",
		StatementTimeoutMs: 30000,
	}
	p, err := Open(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if p.SlowMs != 250 || seen.MaxConns != 7 {
		t.Fatalf("pool settings not applied: slow=%d max=%d", p.SlowMs, seen.MaxConns)
	}
	rp := seen.ConnConfig.RuntimeParams
	if rp["application_name"] != "mevzubase-ingest" || rp["statement_timeout"] != "30000" {
		t.Fatalf("runtime params = %#v", rp)
	}
}

func TestClose_NilSafe(t *testing.T) {
	t.Parallel()

	var p *PG
	p.Close()
	(&PG{}).Close()
}

func TestTracer_LogsSlowAtWarn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf).Level(zerolog.InfoLevel))
	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT\n\t1", ElapsedUS: 1500, Slow: true})

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"sql":"SELECT 1"`) {
		t.Fatalf("unexpected trace line: %s", out)
	}
}
