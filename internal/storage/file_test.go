package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "wxsentry/pkg/logx"
)

func TestFileStoreMonitorsRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	// Empty load before any save.
	got, err := st.LoadMonitors(ctx)
	if err != nil {
		t.Fatalf("LoadMonitors: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}

	want := map[string]string{"wxid_a": "", "wxid_b": "alice"}
	if err := st.SaveMonitors(ctx, want); err != nil {
		t.Fatalf("SaveMonitors: %v", err)
	}

	got, err = st.LoadMonitors(ctx)
	if err != nil {
		t.Fatalf("LoadMonitors: %v", err)
	}
	if len(got) != 2 || got["wxid_b"] != "alice" {
		t.Fatalf("loaded = %v, want %v", got, want)
	}
}

func TestFileStoreAuditAppends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	entries := []AuditEntry{
		{At: now, SourceID: "wxid_a", Kind: "went_offline"},
		{At: now, SourceID: "wxid_a", Kind: "delivery", Channel: "sms", Attempt: 1, OK: true},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "store.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("audit lines = %d, want 2", lines)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
