package main

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDefines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
	}{
		{"empty", "", nil},
		{"single", "cpus=8", map[string]string{"cpus": "8"}},
		{"multiple", "cpus=8, mem=4096", map[string]string{"cpus": "8", "mem": "4096"}},
		{"value with equals", "opts=a=b", map[string]string{"opts": "a=b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDefines(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseDefines(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestDump(t *testing.T) {
	doc := map[string]any{"name": "web01", "cpus": 4}

	var jsonOut strings.Builder
	if err := dump(&jsonOut, "json", doc); err != nil {
		t.Fatalf("dump(json) error = %v", err)
	}
	if !strings.Contains(jsonOut.String(), `"name": "web01"`) {
		t.Errorf("json dump = %q", jsonOut.String())
	}

	var yamlOut strings.Builder
	if err := dump(&yamlOut, "yaml", doc); err != nil {
		t.Fatalf("dump(yaml) error = %v", err)
	}
	if !strings.Contains(yamlOut.String(), "name: web01") {
		t.Errorf("yaml dump = %q", yamlOut.String())
	}

	if err := dump(&jsonOut, "xml", doc); err == nil {
		t.Error("dump(xml) expected error")
	}
}
