package env

import (
	"sort"
	"strings"
	"testing"
)

func asMap(t *testing.T, kvs []string) map[string]string {
	t.Helper()
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			t.Fatalf("pair without '=': %q", kv)
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

func TestMergeOverridesOrder(t *testing.T) {
	e := New()
	e.Inherit = false
	e.Set("A", "1")
	e.Set("B", "config")

	out := asMap(t, e.Merge([]string{"B=extra", "C=3"}))
	if out["A"] != "1" {
		t.Fatalf("A=%q, want 1", out["A"])
	}
	if out["B"] != "extra" {
		t.Fatalf("B=%q, want extra (extras win over configured)", out["B"])
	}
	if out["C"] != "3" {
		t.Fatalf("C=%q, want 3", out["C"])
	}
}

func TestMergeExpandsVars(t *testing.T) {
	e := New()
	e.Inherit = false
	e.Set("ROOT", "/srv/app")
	e.Set("DATA", "${ROOT}/data")

	out := asMap(t, e.Merge(nil))
	if out["DATA"] != "/srv/app/data" {
		t.Fatalf("DATA=%q, want /srv/app/data", out["DATA"])
	}
}

func TestMergeInheritsOS(t *testing.T) {
	t.Setenv("EVERYD_ENV_TEST_KEY", "from-os")

	e := New()
	out := asMap(t, e.Merge(nil))
	if out["EVERYD_ENV_TEST_KEY"] != "from-os" {
		t.Fatalf("inherited value = %q, want from-os", out["EVERYD_ENV_TEST_KEY"])
	}

	e2 := New()
	e2.Inherit = false
	out2 := asMap(t, e2.Merge(nil))
	if _, ok := out2["EVERYD_ENV_TEST_KEY"]; ok {
		t.Fatalf("Inherit=false still leaked OS environment")
	}
}

func TestMergeSkipsMalformed(t *testing.T) {
	e := New()
	e.Inherit = false
	out := e.Merge([]string{"=oops", "novalue", "OK=yes"})
	sort.Strings(out)
	if len(out) != 1 || out[0] != "OK=yes" {
		t.Fatalf("got %v, want only OK=yes", out)
	}
}

func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, configured []byte, extras []byte) {
		e := New()
		e.Inherit = false
		for _, kv := range strings.Split(string(configured), "\n") {
			if i := strings.IndexByte(kv, '='); i > 0 {
				e.Set(kv[:i], kv[i+1:])
			}
		}
		out := e.Merge(strings.Split(string(extras), "\n"))
		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
	})
}
