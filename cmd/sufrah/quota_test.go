package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig creates a sqlite-backed config file in a temp dir and
// returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sufrah.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  dsn: %s\n", filepath.Join(dir, "sufrah.db"))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestMigrateCmd(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCmd(t, "migrate", "-c", cfg)
	if err != nil {
		t.Fatalf("migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Migrated") {
		t.Errorf("output = %s, want migration summary", out)
	}
}

func TestQuotaStatusCmd(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCmd(t, "quota", "status", "t1", "-c", cfg)
	if err != nil {
		t.Fatalf("quota status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Tenant:    t1") {
		t.Errorf("output = %s, want tenant line", out)
	}
	if !strings.Contains(out, "0 / 1000") {
		t.Errorf("output = %s, want fresh FREE usage", out)
	}
}

func TestQuotaRenewCmd(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCmd(t, "quota", "renew", "t1", "--amount", "500", "--reason", "launch credit", "-c", cfg)
	if err != nil {
		t.Fatalf("quota renew: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Added 500 conversations to t1") {
		t.Errorf("output = %s, want top-up confirmation", out)
	}
	if !strings.Contains(out, "0 / 1500") {
		t.Errorf("output = %s, want raised limit", out)
	}
}

func TestQuotaRenewCmd_RequiresAmount(t *testing.T) {
	cfg := writeTestConfig(t)
	if _, err := runCmd(t, "quota", "renew", "t1", "-c", cfg); err == nil {
		t.Fatal("expected error without --amount")
	}
}

func TestQuotaNearingCmd_Empty(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCmd(t, "quota", "nearing", "-c", cfg)
	if err != nil {
		t.Fatalf("quota nearing: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No tenants nearing quota") {
		t.Errorf("output = %s, want empty message", out)
	}
}
