// Package env composes environments for child processes and reads
// project .env files.
package env

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/subosito/gotenv"
)

type Var map[string]string

type Env struct {
	Var Var // overrides applied on top of the base (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.env = base
}

// Isolated replaces the OS base with an empty one, so Merge yields only the
// overrides and extra entries.
func (e *Env) Isolated() *Env {
	e.env = make(Var)
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies every pair of vars as overrides.
func (e *Env) SetAll(vars map[string]string) {
	for k, v := range vars {
		if k == "" {
			continue
		}
		e.Set(k, v)
	}
}

// Merge composes the final environment applying, in order, the OS base,
// the overrides and extra ("K=V") entries. ${VAR} references are expanded
// once against the composed map. The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

// LoadFile parses a dotenv file. A missing file yields an empty set.
func LoadFile(path string) (Var, error) {
	vars, err := gotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Var{}, nil
	}
	if err != nil {
		return nil, err
	}
	if vars == nil {
		return Var{}, nil
	}
	return Var(vars), nil
}
