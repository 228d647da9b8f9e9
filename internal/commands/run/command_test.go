package run

import "testing"

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"tone=polite", "region=eu-central", "note=a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vars["tone"] != "polite" {
		t.Errorf("tone = %v", vars["tone"])
	}
	// Only the first = splits; the rest stays in the value.
	if vars["note"] != "a=b" {
		t.Errorf("note = %v", vars["note"])
	}

	for _, bad := range []string{"noequals", "=value"} {
		if _, err := parseVars([]string{bad}); err == nil {
			t.Errorf("parseVars(%q) should fail", bad)
		}
	}
}
