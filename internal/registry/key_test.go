package registry

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		name, selector, want string
	}{
		{"foo", "", "foo"},
		{"foo", "idb", "idb://foo"},
		{"testdb_1", "memory", "memory://testdb_1"},
	}
	for _, tt := range tests {
		if got := Key(tt.name, tt.selector); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.name, tt.selector, got, tt.want)
		}
	}
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key, name, selector string
	}{
		{"foo", "foo", ""},
		{"idb://foo", "foo", "idb"},
		{"sqlite://a_b", "a_b", "sqlite"},
		{"://foo", "://foo", ""},
		{"we ird://foo", "we ird://foo", ""},
		{"http://localhost:5984/db", "localhost:5984/db", "http"},
	}
	for _, tt := range tests {
		name, sel := SplitKey(tt.key)
		if name != tt.name || sel != tt.selector {
			t.Errorf("SplitKey(%q) = (%q, %q), want (%q, %q)", tt.key, name, sel, tt.name, tt.selector)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	for _, sel := range []string{"", "idb", "leveldb"} {
		key := Key("mydb", sel)
		name, gotSel := SplitKey(key)
		if name != "mydb" || gotSel != sel {
			t.Errorf("round trip via %q: got (%q, %q)", key, name, gotSel)
		}
	}
}
