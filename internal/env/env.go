package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers engine environment overrides on top of the OS environment.
// Override values may reference other variables as ${VAR}; expansion uses
// the composed map (simple expansion, no recursion).
type Env struct {
	vars Var // overrides (K->V), from env files and inline config
	base Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		vars: make(Var),
	}
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

// Set adds an override K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.vars == nil {
		e.vars = make(Var)
	}
	e.vars[k] = v
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.vars != nil {
		delete(e.vars, k)
	}
}

// LoadFile reads a KEY=VALUE file into the overrides (no export keyword,
// no quoting). Blank lines and lines starting with # are ignored.
func (e *Env) LoadFile(path string) error {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			e.Set(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
		}
	}
	return nil
}

// Overrides returns the overrides as a sorted "K=V" slice with ${VAR}
// expansion performed against the OS base plus the overrides themselves.
// The engine appends these to its inherited environment, so only the
// overrides are returned, not the full composed environment.
func (e *Env) Overrides() []string {
	if len(e.vars) == 0 {
		return nil
	}
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.vars))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
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
