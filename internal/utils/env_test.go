package utils

import "testing"

func TestEnvOrDefaultFallsBackWhenUnset(t *testing.T) {
	const key = "DOMINO_TEST_STRING"
	if got := EnvOrDefault(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestEnvOrDefaultReadsSetValue(t *testing.T) {
	const key = "DOMINO_TEST_STRING"
	t.Setenv(key, "overridden")
	if got := EnvOrDefault(key, "fallback"); got != "overridden" {
		t.Fatalf("expected overridden, got %q", got)
	}
}

func TestEnvOrDefaultIntParsesAndFallsBack(t *testing.T) {
	const key = "DOMINO_TEST_TICK_BATCH"
	if got := EnvOrDefaultInt(key, 30); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	t.Setenv(key, "8")
	if got := EnvOrDefaultInt(key, 30); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	t.Setenv(key, "not-a-number")
	if got := EnvOrDefaultInt(key, 12); got != 12 {
		t.Fatalf("expected fallback on parse error, got %d", got)
	}
}

func TestEnvOrDefaultUint64ParsesAndFallsBack(t *testing.T) {
	const key = "DOMINO_TEST_SEED"
	if got := EnvOrDefaultUint64(key, 1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	t.Setenv(key, "123456789")
	if got := EnvOrDefaultUint64(key, 1); got != 123456789 {
		t.Fatalf("expected 123456789, got %d", got)
	}
	t.Setenv(key, "not-a-number")
	if got := EnvOrDefaultUint64(key, 9); got != 9 {
		t.Fatalf("expected fallback on parse error, got %d", got)
	}
}
