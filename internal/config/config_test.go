package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.GeneralVisitDuration != 15*time.Minute {
		t.Fatalf("general duration = %v", cfg.GeneralVisitDuration)
	}
	if cfg.TherapyVisitDuration != 30*time.Minute {
		t.Fatalf("therapy duration = %v", cfg.TherapyVisitDuration)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL)
	}
	if cfg.RetryMaxTries != 3 {
		t.Fatalf("retry max tries = %d", cfg.RetryMaxTries)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("THERAPY_TYPES", "PANCHAKARMA, ABHYANGA ,, SHIRODHARA")
	t.Setenv("GENERAL_VISIT_MINUTES", "10")
	t.Setenv("QUEUE_CACHE_TTL_SECONDS", "60")
	t.Setenv("STORE_RETRY_MAX_TRIES", "not-a-number")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("port = %q", cfg.Port)
	}
	want := []string{"PANCHAKARMA", "ABHYANGA", "SHIRODHARA"}
	if len(cfg.TherapyTypes) != len(want) {
		t.Fatalf("therapy types = %v", cfg.TherapyTypes)
	}
	for i := range want {
		if cfg.TherapyTypes[i] != want[i] {
			t.Fatalf("therapy types = %v, want %v", cfg.TherapyTypes, want)
		}
	}
	if cfg.GeneralVisitDuration != 10*time.Minute {
		t.Fatalf("general duration = %v", cfg.GeneralVisitDuration)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL)
	}
	// Unparseable values fall back to the default.
	if cfg.RetryMaxTries != 3 {
		t.Fatalf("retry max tries = %d", cfg.RetryMaxTries)
	}
}
