package handler

import (
	"net/http/httptest"
	"testing"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?offset=0", "offset", 10, 0},
		{"parses negative", "/test?offset=-5", "offset", 0, -5},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// clampInt tests
// ---------------------------------------------------------------------------

func TestClampInt(t *testing.T) {
	tests := []struct {
		val, min, max, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{15, 1, 10, 10},
		{1, 1, 10, 1},
		{10, 1, 10, 10},
	}
	for _, tt := range tests {
		if got := clampInt(tt.val, tt.min, tt.max); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// pathID tests
// ---------------------------------------------------------------------------

func TestPathID(t *testing.T) {
	if id, ok := pathID("42"); !ok || id != 42 {
		t.Errorf("pathID(\"42\") = %d, %v", id, ok)
	}
	for _, s := range []string{"", "abc", "1.5", "9999999999999999999999"} {
		if _, ok := pathID(s); ok {
			t.Errorf("pathID(%q) accepted invalid input", s)
		}
	}
}
