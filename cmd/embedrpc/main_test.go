package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/link"
)

const mainTestPrefix = "cmd/embedrpc:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "call", "link", "migrate", "ensure-db", "clear", "COMMS_URL", "DATABASE_URL"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParseCallArgs(t *testing.T) {
	proc, params, err := parseCallArgs([]string{"getStatus"})
	if err != nil || proc != "getStatus" || params != nil {
		t.Errorf("%s - got (%q, %s, %v)", mainTestPrefix, proc, params, err)
	}

	proc, params, err = parseCallArgs([]string{"echo", `{"a":1}`})
	if err != nil || proc != "echo" || string(params) != `{"a":1}` {
		t.Errorf("%s - got (%q, %s, %v)", mainTestPrefix, proc, params, err)
	}

	for _, args := range [][]string{nil, {""}, {"echo", "{not json"}, {"a", "1", "2"}} {
		if _, _, err := parseCallArgs(args); err == nil {
			t.Errorf("%s - parseCallArgs(%q) should fail", mainTestPrefix, args)
		}
	}
}

func TestParseLinkArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantPath   string
		wantParams link.Params
	}{
		{"defaults", nil, "/frame", link.Params{}},
		{"path only", []string{"/settings"}, "/settings", link.Params{}},
		{"params only", []string{"theme=dark"}, "/frame", link.Params{"theme": "dark"}},
		{"path and params", []string{"/a", "x=1", "y="}, "/a", link.Params{"x": "1", "y": ""}},
		{"value with equals", []string{"q=a=b"}, "/frame", link.Params{"q": "a=b"}},
	}
	for _, tt := range tests {
		path, params, err := parseLinkArgs(tt.args, "/frame")
		if err != nil {
			t.Errorf("%s - %s: unexpected error %v", mainTestPrefix, tt.name, err)
			continue
		}
		if path != tt.wantPath {
			t.Errorf("%s - %s: path = %q, want %q", mainTestPrefix, tt.name, path, tt.wantPath)
		}
		if len(params) != len(tt.wantParams) {
			t.Errorf("%s - %s: params = %v, want %v", mainTestPrefix, tt.name, params, tt.wantParams)
			continue
		}
		for k, v := range tt.wantParams {
			if params[k] != v {
				t.Errorf("%s - %s: params[%s] = %v, want %v", mainTestPrefix, tt.name, k, params[k], v)
			}
		}
	}

	if _, _, err := parseLinkArgs([]string{"/a", "novalue"}, "/frame"); err == nil {
		t.Errorf("%s - expected error for argument without '='", mainTestPrefix)
	}
	if _, _, err := parseLinkArgs([]string{"=x"}, "/frame"); err == nil {
		t.Errorf("%s - expected error for empty key", mainTestPrefix)
	}
}

func TestFormatResult(t *testing.T) {
	if got := formatResult(nil); got != "null" {
		t.Errorf("%s - formatResult(nil) = %q", mainTestPrefix, got)
	}
	if got := formatResult(json.RawMessage(`{"a":1}`)); got != "{\n  \"a\": 1\n}" {
		t.Errorf("%s - formatResult = %q", mainTestPrefix, got)
	}
	if got := formatResult(json.RawMessage(`nope`)); got != "nope" {
		t.Errorf("%s - formatResult(invalid) = %q", mainTestPrefix, got)
	}
}

func TestWithDatabase(t *testing.T) {
	got, err := withDatabase("postgres://u:p@localhost:5432/app?sslmode=disable", "embedrpc_test")
	if err != nil {
		t.Fatalf("%s - withDatabase: %v", mainTestPrefix, err)
	}
	if got != "postgres://u:p@localhost:5432/embedrpc_test?sslmode=disable" {
		t.Errorf("%s - withDatabase = %q", mainTestPrefix, got)
	}
}

func TestWriteMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := bridge.NewMetrics(registry); err != nil {
		t.Fatalf("%s - NewMetrics: %v", mainTestPrefix, err)
	}
	calls := prometheus.NewCounter(prometheus.CounterOpts{Name: "embedrpc_cli_calls_total", Help: "calls"})
	registry.MustRegister(calls)
	calls.Inc()

	path := filepath.Join(t.TempDir(), "call.prom")
	if err := writeMetrics(path, registry); err != nil {
		t.Fatalf("%s - writeMetrics: %v", mainTestPrefix, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("%s - read metrics file: %v", mainTestPrefix, err)
	}
	if !strings.Contains(string(data), "embedrpc_cli_calls_total 1") {
		t.Errorf("%s - metrics file = %s", mainTestPrefix, data)
	}

	if err := writeMetrics(filepath.Join(t.TempDir(), "missing", "call.prom"), registry); err == nil {
		t.Errorf("%s - expected error for missing directory", mainTestPrefix)
	}
}
