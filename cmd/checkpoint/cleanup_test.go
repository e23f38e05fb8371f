package main

import (
	"testing"

	"github.com/untoldecay/checkpoint/internal/retention"
)

func TestOverridePoliciesSize(t *testing.T) {
	var db, files retention.Policy
	overridePolicies(&db, &files, 0, 500)
	if db.SizeBasedMB != 500 || files.SizeBasedMB != 500 {
		t.Fatalf("size override not applied: db=%d files=%d", db.SizeBasedMB, files.SizeBasedMB)
	}
	if db.TimeRuleOn || files.TimeRuleOn {
		t.Fatal("size override must not enable the time rule")
	}
}

func TestOverridePoliciesAge(t *testing.T) {
	var db, files retention.Policy
	overridePolicies(&db, &files, 14, 0)
	if !db.TimeRuleOn || db.TimeBasedDays != 14 {
		t.Fatalf("age override not applied: on=%v days=%d", db.TimeRuleOn, db.TimeBasedDays)
	}
	if db.SizeBasedMB != 0 {
		t.Fatalf("size rule enabled without --size: %d", db.SizeBasedMB)
	}
}

func TestParseAgeDaysNumeric(t *testing.T) {
	days, err := parseAgeDays("14")
	if err != nil {
		t.Fatal(err)
	}
	if days != 14 {
		t.Fatalf("expected 14, got %d", days)
	}
}

func TestParseAgeDaysNaturalLanguage(t *testing.T) {
	days, err := parseAgeDays("2 weeks ago")
	if err != nil {
		t.Fatal(err)
	}
	if days < 13 || days > 15 {
		t.Fatalf("expected ~14 days, got %d", days)
	}
}

func TestParseAgeDaysGarbage(t *testing.T) {
	if _, err := parseAgeDays("not a date at all"); err == nil {
		t.Fatal("expected parse error")
	}
}
