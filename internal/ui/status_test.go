package ui

import (
	"strings"
	"testing"
	"time"
)

func TestFormatAge(t *testing.T) {
	if got := FormatAge(time.Time{}); got != "never" {
		t.Fatalf("zero time: %q", got)
	}
	if got := FormatAge(time.Now().Add(-30 * time.Second)); got != "just now" {
		t.Fatalf("30s: %q", got)
	}
	if got := FormatAge(time.Now().Add(-5 * time.Minute)); got != "5m ago" {
		t.Fatalf("5m: %q", got)
	}
	if got := FormatAge(time.Now().Add(-49 * time.Hour)); got != "2d ago" {
		t.Fatalf("49h: %q", got)
	}
}

func TestRenderProjectTableEmpty(t *testing.T) {
	out := RenderProjectTable(nil, 80)
	if !strings.Contains(out, "No projects registered") {
		t.Fatalf("empty table hint missing: %q", out)
	}
}

func TestRenderProjectTableRows(t *testing.T) {
	rows := []ProjectRow{
		{ID: "api", Root: "/src/api", Daemon: "running", Health: "ok"},
		{ID: "web", Root: "/src/web", Daemon: "stopped", Health: "fail", Detail: "EDISK002"},
	}
	out := RenderProjectTable(rows, 100)
	for _, want := range []string{"api", "web", "never", "EDISK002"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in rendered table", want)
		}
	}
}
