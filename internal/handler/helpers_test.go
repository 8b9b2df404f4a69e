package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQueryBool(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"/test", false},
		{"/test?flag=true", true},
		{"/test?flag=1", true},
		{"/test?flag=TRUE", true},
		{"/test?flag=false", false},
		{"/test?flag=yes", false},
		{"/test?flag=", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := queryBool(r, "flag"); got != tt.want {
				t.Errorf("queryBool = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadJSONEmptyBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/test", strings.NewReader(""))
	v := newKeyRequest{Username: "from-query"}
	if err := readJSON(r, &v); err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if v.Username != "from-query" {
		t.Errorf("empty body must not reset fields, got %q", v.Username)
	}
}

func TestReadJSONOverridesQuery(t *testing.T) {
	r := httptest.NewRequest("POST", "/test", strings.NewReader(`{"username":"from-body"}`))
	v := newKeyRequest{Username: "from-query", Email: "q@example.com"}
	if err := readJSON(r, &v); err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if v.Username != "from-body" || v.Email != "q@example.com" {
		t.Errorf("got %+v", v)
	}
}

func TestCapitalizeFirst(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"weak password": "Weak password",
		"Already":       "Already",
		"1abc":          "1abc",
	}
	for in, want := range tests {
		if got := capitalizeFirst(in); got != want {
			t.Errorf("capitalizeFirst(%q) = %q, want %q", in, got, want)
		}
	}
}
