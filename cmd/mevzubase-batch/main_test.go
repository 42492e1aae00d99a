package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxxor/Mevzubase/internal/platform/config"
)

func TestParseFlags(t *testing.T) {
	c, err := parseFlags([]string{
		"--start-year", "2005", "--end-year", "2025", "--end-date", "2025-11-20",
		"--parallel", "6", "--refresh", "2", "--", "--store", "pg",
	}, config.New(), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 6, c.opts.Parallel)
	assert.Equal(t, 2*time.Second, c.opts.Refresh)
	assert.Equal(t, "yargitay", c.opts.Connector)
	require.NotNil(t, c.opts.EndDate)
	assert.Equal(t, "2025-11-20", c.opts.EndDate.Format(time.DateOnly))
	assert.Equal(t, []string{"--store", "pg"}, c.opts.IngestArgs)

	bad := [][]string{
		{"--end-year", "2020"},
		{"--start-year", "2021", "--end-year", "2020"},
		{"--start-year", "2020", "--end-year", "2020", "--parallel", "0"},
		{"--start-year", "2020", "--end-year", "2020", "--end-date", "soon"},
	}
	for _, args := range bad {
		if _, err := parseFlags(args, config.New(), io.Discard); err == nil {
			t.Fatalf("parseFlags(%v) accepted", args)
		}
	}
}

func fakeIngest(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script child")
	}
	p := filepath.Join(t.TempDir(), "fake-ingest")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return p
}

func TestRun_ChildrenExitCodes(t *testing.T) {
	t.Setenv("SERVICE_PGSQL_DBURL", "")

	logs := t.TempDir()
	ok := fakeIngest(t, `echo "$@"; exit 0`)
	var out bytes.Buffer
	code := run(context.Background(), []string{
		"--start-year", "2020", "--end-year", "2021", "--end-date", "2021-06-30",
		"--connector", "fixture", "--ingest-bin", ok, "--log-dir", logs, "--parallel", "2",
	}, config.New(), &out)
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "Launching 2 windows (parallel=2, connector=fixture)")
	assert.Contains(t, out.String(), "2 windows finished, 0 failed")

	b, err := os.ReadFile(filepath.Join(logs, "fixture_2021-01-01_2021-06-30.log"))
	require.NoError(t, err)
	assert.Equal(t, "--connector fixture --window-start 2021-01-01 --window-end 2021-06-30", strings.TrimSpace(string(b)))

	fail := fakeIngest(t, `case "$4" in 2021*) exit 1;; esac; exit 0`)
	out.Reset()
	code = run(context.Background(), []string{
		"--start-year", "2020", "--end-year", "2021",
		"--connector", "fixture", "--ingest-bin", fail, "--log-dir", logs,
	}, config.New(), &out)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "2 windows finished, 1 failed")
	assert.Contains(t, out.String(), "2021-01-01->2021-12-31 exit=1")
}
