package types

import "testing"

func TestParseEngine(t *testing.T) {
	for _, name := range []string{"claude", "codex", "gemini"} {
		e, err := ParseEngine(name)
		if err != nil {
			t.Errorf("ParseEngine(%q): %v", name, err)
		}
		if string(e) != name {
			t.Errorf("ParseEngine(%q) = %q", name, e)
		}
		if !e.Valid() {
			t.Errorf("engine %q not valid", name)
		}
	}

	if _, err := ParseEngine("cursor"); err == nil {
		t.Error("unknown engine accepted")
	}
	if _, err := ParseEngine(""); err == nil {
		t.Error("empty engine accepted")
	}
	if Engine("aider").Valid() {
		t.Error("arbitrary engine string reported valid")
	}
}

func TestAllEnginesClosedSet(t *testing.T) {
	all := AllEngines()
	if len(all) != 3 {
		t.Fatalf("AllEngines() = %d entries, want 3", len(all))
	}
	for _, e := range all {
		if !e.Valid() {
			t.Errorf("listed engine %q not valid", e)
		}
	}
}
