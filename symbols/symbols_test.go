package symbols

import (
	"hash/crc32"
	"testing"
)

func TestTagHash(t *testing.T) {
	if got, want := TagHash("node"), crc32.ChecksumIEEE([]byte("node")); got != want {
		t.Errorf("TagHash(\"node\") = %#x, want %#x", got, want)
	}
	if TagHash("name") == TagHash("value") {
		t.Error("distinct tag names must not collide in the test vocabulary")
	}
}

func TestLoad(t *testing.T) {
	tables, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// every embedded tag must resolve through its own hash
	for _, name := range []string{"action", "name", "value", "text"} {
		got, ok := tables.ResolveTag(TagHash(name))
		if !ok {
			t.Errorf("ResolveTag(TagHash(%q)) not found", name)
			continue
		}
		if got != name {
			t.Errorf("ResolveTag(TagHash(%q)) = %q", name, got)
		}
	}

	if _, ok := tables.ResolveTag(0xdeadbeef); ok {
		t.Error("ResolveTag() resolved a hash that is not in the table")
	}

	if eng, ok := tables.Translate("攻撃"); !ok || eng != "Attack" {
		t.Errorf("Translate(\"攻撃\") = %q, %v, want \"Attack\", true", eng, ok)
	}
	if _, ok := tables.Translate("not in the table"); ok {
		t.Error("Translate() matched a phrase that is not in the table")
	}
	// whole-string lookup only, no substring matching
	if _, ok := tables.Translate("攻撃!"); ok {
		t.Error("Translate() must not match on a substring")
	}
}

func TestNew(t *testing.T) {
	tables := New(
		map[uint32]string{1: "root"},
		map[string]string{"はい": "Yes"},
	)
	if name, ok := tables.ResolveTag(1); !ok || name != "root" {
		t.Errorf("ResolveTag(1) = %q, %v, want \"root\", true", name, ok)
	}
	if eng, ok := tables.Translate("はい"); !ok || eng != "Yes" {
		t.Errorf("Translate(\"はい\") = %q, %v, want \"Yes\", true", eng, ok)
	}
}
