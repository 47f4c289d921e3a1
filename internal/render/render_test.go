package render

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 17, 9, 30, 45, 0, time.UTC)

func TestRenderSubstitution(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "plain text",
			tmpl: "no placeholders here",
			want: "no placeholders here",
		},
		{
			name: "named vars",
			tmpl: "account {wxid} via {bot_name}",
			vars: map[string]string{"wxid": "wxid_abc", "bot_name": "sentry"},
			want: "account wxid_abc via sentry",
		},
		{
			name: "builtin time vars",
			tmpl: "{date} {hour} ({time})",
			want: "2024-05-17 09:30 (2024-05-17 09:30:45)",
		},
		{
			name: "vars override builtins",
			tmpl: "{time}",
			vars: map[string]string{"time": "frozen"},
			want: "frozen",
		},
		{
			name: "unknown placeholder stays literal",
			tmpl: "oops {wixd} typo",
			vars: map[string]string{"wxid": "wxid_abc"},
			want: "oops {wixd} typo",
		},
		{
			name: "escaped brace",
			tmpl: "json {{\"k\": 1}",
			want: "json {\"k\": 1}",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderAt(tt.tmpl, tt.vars, testNow)
			if err != nil {
				t.Fatalf("RenderAt(%q) error: %v", tt.tmpl, err)
			}
			if got != tt.want {
				t.Fatalf("RenderAt(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestRenderIsPure(t *testing.T) {
	t.Parallel()
	vars := map[string]string{"wxid": "wxid_abc"}
	a, err := RenderAt("{wxid} at {time}", vars, testNow)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenderAt("{wxid} at {time}", vars, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("render not idempotent: %q vs %q", a, b)
	}
}

func TestMalformedTemplates(t *testing.T) {
	t.Parallel()
	bad := []string{
		"unterminated {wxid",
		"empty {} token",
		"bad {wx id} name",
		"trailing {",
	}
	for _, tmpl := range bad {
		if _, err := RenderAt(tmpl, nil, testNow); err == nil {
			t.Fatalf("RenderAt(%q): expected error", tmpl)
		}
		if err := Check(tmpl); err == nil {
			t.Fatalf("Check(%q): expected error", tmpl)
		}
	}
	if err := Check("fine {wxid} and {time}"); err != nil {
		t.Fatalf("Check valid template: %v", err)
	}
}
