package ch

import (
	"os"
	"runtime"
	"strings"

	"github.com/nuxxor/Mevzubase/internal/platform/buildinfo"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// BuildClientInfo describes this process in system.query_log
// role examples: "ingest", "batch"
func BuildClientInfo(role, tag string) clickhouse.ClientInfo {
	host, _ := os.Hostname()
	info := buildinfo.Info()
	if tag == "" {
		tag = info.Version
	}
	type kv = struct{ Name, Version string }
	products := []kv{
		{Name: "mevzubase", Version: strings.TrimSpace(tag)},
		{Name: "role", Version: strings.TrimSpace(role)},
		{Name: "go", Version: runtime.Version()},
		{Name: "commit", Version: info.Commit},
		{Name: "host", Version: strings.TrimSpace(host)},
	}
	return clickhouse.ClientInfo{Products: products}
}
