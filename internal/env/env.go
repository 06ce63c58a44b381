package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env assembles the environment handed to a worker invocation.
// The base is the supervisor's own environment (when Inherit is set),
// overlaid with configured variables and per-call extras.
type Env struct {
	Var     Var  // configured variables (K->V)
	Inherit bool // include the supervisor's environment as the base
	base    Var  // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var), Inherit: true}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.base = base
}

// Set sets a configured variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a configured variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list applying order:
// base = OS env (when Inherit; cached on first use)
// then configured e.Var overrides
// then extra (slice of "K=V") overrides
// Returns the environment slice in "K=V" form, with ${VAR} expansion
// performed using the composed map (simple expansion, no recursion).
func (e *Env) Merge(extra []string) []string {
	m := make(Var)
	if e.Inherit {
		if e.base == nil {
			e.FromOS()
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = v
		}
	}
	// expand ${VAR}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	// build slice
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

func expand(s string, m Var) string {
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
