package keyexpr

import "testing"

func TestValidate(t *testing.T) {
	valid := []string{"demo", "demo/example/shmpub", "demo/*/shmpub", "demo/**", "**"}
	for _, expr := range valid {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q): %v", expr, err)
		}
	}
	invalid := []string{"", "/demo", "demo/", "demo//x", "demo/a*", "demo/$x", "demo/#"}
	for _, expr := range invalid {
		if err := Validate(expr); err == nil {
			t.Errorf("Validate(%q): expected error", expr)
		}
	}
}

func TestValidateKeyRejectsWildcards(t *testing.T) {
	if err := ValidateKey("demo/example/shmpub"); err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	for _, key := range []string{"demo/*", "demo/**"} {
		if err := ValidateKey(key); err == nil {
			t.Errorf("ValidateKey(%q): expected error", key)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		expr, key string
		want      bool
	}{
		{"demo/example/shmpub", "demo/example/shmpub", true},
		{"demo/example/shmpub", "demo/example/other", false},
		{"demo/*/shmpub", "demo/example/shmpub", true},
		{"demo/*/shmpub", "demo/shmpub", false},
		{"demo/*", "demo/example/shmpub", false},
		{"demo/**", "demo/example/shmpub", true},
		{"demo/**", "demo", true},
		{"demo/**/shmpub", "demo/shmpub", true},
		{"demo/**/shmpub", "demo/a/b/shmpub", true},
		{"demo/**/shmpub", "demo/a/b/other", false},
		{"**", "anything/at/all", true},
		{"*/example/**", "demo/example", true},
		{"other/**", "demo/example", false},
	}
	for _, tc := range cases {
		if got := Match(tc.expr, tc.key); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.expr, tc.key, got, tc.want)
		}
	}
}
