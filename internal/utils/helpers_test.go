package utils

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " y ", "on"} {
		if !ParseBool(v) {
			t.Fatalf("expected %q to be truthy", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "maybe"} {
		if ParseBool(v) {
			t.Fatalf("expected %q to be falsy", v)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		unit time.Duration
		want time.Duration
	}{
		{"90s", time.Second, 90 * time.Second},
		{"10", time.Minute, 10 * time.Minute},
		{"1.5", time.Hour, 90 * time.Minute},
		{" 2m ", time.Second, 2 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in, tc.unit)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseDuration("soon", time.Second); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
	if _, err := ParseDuration("", time.Second); err == nil {
		t.Fatalf("expected error for empty duration")
	}
}

func TestMaskSecret(t *testing.T) {
	if MaskSecret("") != "" {
		t.Fatalf("empty secret should stay empty")
	}
	if MaskSecret("abc") != "****" {
		t.Fatalf("short secret should be fully masked")
	}
	if got := MaskSecret("sk-1234567890"); got != "********7890" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSONResponse(rec, map[string]string{"status": "healthy"}); err != nil {
		t.Fatalf("WriteJSONResponse: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Body.String() != `{"status":"healthy"}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
