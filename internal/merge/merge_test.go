package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTrees(t *testing.T) {
	tests := []struct {
		name    string
		base    map[string]any
		overlay map[string]any
		want    map[string]any
	}{
		{
			name:    "disjoint keys",
			base:    map[string]any{"a": 1.0},
			overlay: map[string]any{"b": 2.0},
			want:    map[string]any{"a": 1.0, "b": 2.0},
		},
		{
			name:    "overlay scalar wins",
			base:    map[string]any{"a": 1.0},
			overlay: map[string]any{"a": 2.0},
			want:    map[string]any{"a": 2.0},
		},
		{
			name: "nested mappings merge recursively",
			base: map[string]any{
				"defs": map[string]any{"cpu": 2.0, "mem": 2048.0},
			},
			overlay: map[string]any{
				"defs": map[string]any{"mem": 4096.0, "disk": 20.0},
			},
			want: map[string]any{
				"defs": map[string]any{"cpu": 2.0, "mem": 4096.0, "disk": 20.0},
			},
		},
		{
			name:    "overlay sequence replaces, never concatenates",
			base:    map[string]any{"servers": []any{"a", "b"}},
			overlay: map[string]any{"servers": []any{"c"}},
			want:    map[string]any{"servers": []any{"c"}},
		},
		{
			name:    "overlay scalar replaces mapping",
			base:    map[string]any{"dns": map[string]any{"servers": []any{"a"}}},
			overlay: map[string]any{"dns": "none"},
			want:    map[string]any{"dns": "none"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trees(tt.base, tt.overlay)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Trees() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrees_DoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"defs": map[string]any{"cpu": 2.0}}
	overlay := map[string]any{"defs": map[string]any{"cpu": 4.0}}

	_ = Trees(base, overlay)

	if base["defs"].(map[string]any)["cpu"] != 2.0 {
		t.Error("Trees() mutated base tree")
	}
}

func TestTrees_OutputDoesNotAliasInputs(t *testing.T) {
	base := map[string]any{"defs": map[string]any{"cpu": 2.0}}
	got := Trees(base, map[string]any{})
	got["defs"].(map[string]any)["cpu"] = 8.0

	if base["defs"].(map[string]any)["cpu"] != 2.0 {
		t.Error("merge output aliases base tree")
	}
}

func dimsFrom(m map[string]string) DimensionFunc {
	return func(dim string) string { return m[dim] }
}

func TestApplyLayer_FullMatchSemantics(t *testing.T) {
	doc := map[string]any{
		"defs": map[string]any{"base": true},
		"version_specific": []any{
			map[string]any{
				"version": `7\..*`,
				"defs":    map[string]any{"legacy": true},
			},
		},
	}

	tests := []struct {
		version    string
		wantLegacy bool
	}{
		{"7.9", true},
		{"7.0", true},
		{"8.0", false},
		{"x7.9", false}, // partial match must be rejected
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, err := ApplyLayer(map[string]any{}, doc, dimsFrom(map[string]string{"version": tt.version}))
			if err != nil {
				t.Fatalf("ApplyLayer() error = %v", err)
			}
			defs := got["defs"].(map[string]any)
			_, hasLegacy := defs["legacy"]
			if hasLegacy != tt.wantLegacy {
				t.Errorf("version %q: legacy def present = %v, want %v", tt.version, hasLegacy, tt.wantLegacy)
			}
		})
	}
}

func TestApplyLayer_DeclarationOrderWins(t *testing.T) {
	doc := map[string]any{
		"dist_specific": []any{
			map[string]any{"dist": "rhel|rocky", "defs": map[string]any{"pkg": "dnf", "repo": "base"}},
			map[string]any{"dist": "rhel", "defs": map[string]any{"pkg": "yum"}},
		},
	}

	got, err := ApplyLayer(map[string]any{}, doc, dimsFrom(map[string]string{"dist": "rhel"}))
	if err != nil {
		t.Fatalf("ApplyLayer() error = %v", err)
	}

	defs := got["defs"].(map[string]any)
	if defs["pkg"] != "yum" {
		t.Errorf("pkg = %v, want later match to win (yum)", defs["pkg"])
	}
	if defs["repo"] != "base" {
		t.Errorf("repo = %v, want earlier match key preserved", defs["repo"])
	}
}

func TestApplyLayer_NestedSpecifics(t *testing.T) {
	doc := map[string]any{
		"dist_specific": []any{
			map[string]any{
				"dist": "rhel",
				"defs": map[string]any{"os": "rhel"},
				"arch_specific": []any{
					map[string]any{
						"arch": "aarch64",
						"defs": map[string]any{"console": "ttyAMA0"},
					},
				},
			},
		},
	}

	got, err := ApplyLayer(map[string]any{}, doc, dimsFrom(map[string]string{"dist": "rhel", "arch": "aarch64"}))
	if err != nil {
		t.Fatalf("ApplyLayer() error = %v", err)
	}
	defs := got["defs"].(map[string]any)
	if defs["console"] != "ttyAMA0" {
		t.Errorf("nested arch_specific not applied, defs = %v", defs)
	}
}

func TestApplyLayer_CaseInsensitive(t *testing.T) {
	doc := map[string]any{
		"platform_specific": []any{
			map[string]any{"platform": "VSphere", "defs": map[string]any{"hit": true}},
		},
	}
	got, err := ApplyLayer(map[string]any{}, doc, dimsFrom(map[string]string{"platform": "vsphere"}))
	if err != nil {
		t.Fatalf("ApplyLayer() error = %v", err)
	}
	if _, ok := got["defs"]; !ok {
		t.Error("case-insensitive match did not apply payload")
	}
}

func TestApplyLayer_BadPattern(t *testing.T) {
	doc := map[string]any{
		"version_specific": []any{
			map[string]any{"version": "7.[", "defs": map[string]any{}},
		},
	}
	if _, err := ApplyLayer(map[string]any{}, doc, dimsFrom(map[string]string{"version": "7.9"})); err == nil {
		t.Error("ApplyLayer() expected error for uncompilable pattern, got nil")
	}
}

func TestApplyLayer_StripsControlKeys(t *testing.T) {
	doc := map[string]any{
		"include": "parent",
		"defs":    map[string]any{"a": 1.0},
		"version_specific": []any{
			map[string]any{"version": "9.*", "defs": map[string]any{"b": 2.0}},
		},
	}
	got, err := ApplyLayer(map[string]any{}, doc, dimsFrom(map[string]string{"version": "9.4"}))
	if err != nil {
		t.Fatalf("ApplyLayer() error = %v", err)
	}
	if _, ok := got["include"]; ok {
		t.Error("include key leaked into merged tree")
	}
	if _, ok := got["version_specific"]; ok {
		t.Error("version_specific key leaked into merged tree")
	}
}
