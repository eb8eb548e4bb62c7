// Package config holds the flat key-value parameter set of a simulation run.
//
// Parameters are read from KEY=VALUE files, then from ROWARMOR_-prefixed
// environment variables, then from explicit overrides. Keys keep the names of
// the McSim parameters, optionally behind the pts.mc. or pts. prefixes used in
// McSim md-files.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvPrefix marks the environment variables that override parameters.
const EnvPrefix = "ROWARMOR_"

var keyPrefixes = []string{"", "pts.mc.", "pts."}

// Params is a set of named parameters.
type Params struct {
	lock   sync.Mutex
	values map[string]string
	errs   []error
}

// New creates an empty parameter set.
func New() *Params {
	return &Params{values: make(map[string]string)}
}

// Load reads the given files in order and then applies the environment
// overrides. Later files override earlier ones.
func Load(files ...string) (*Params, error) {
	p := New()

	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading parameter file %s: %w", f, err)
		}

		for k, v := range values {
			p.Set(k, v)
		}
	}

	p.ApplyEnv(os.Environ())

	return p, nil
}

// ApplyEnv sets every parameter carried by a KEY=VALUE pair whose key starts
// with EnvPrefix.
func (p *Params) ApplyEnv(environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}

		key, value, found := strings.Cut(strings.TrimPrefix(kv, EnvPrefix), "=")
		if !found || key == "" {
			continue
		}

		p.Set(key, value)
	}
}

// Set assigns a value to a key.
func (p *Params) Set(key, value string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
}

// SetPair parses and applies a key=value override.
func (p *Params) SetPair(kv string) error {
	key, value, found := strings.Cut(kv, "=")
	if !found || strings.TrimSpace(key) == "" {
		return fmt.Errorf("override %q is not in key=value form", kv)
	}

	p.Set(key, value)

	return nil
}

// Lookup returns the value of a key. The bare key wins over the prefixed
// forms.
func (p *Params) Lookup(key string) (string, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, prefix := range keyPrefixes {
		if v, found := p.values[prefix+key]; found {
			return v, true
		}
	}

	return "", false
}

// Has tells if the key is set under any of its forms.
func (p *Params) Has(key string) bool {
	_, found := p.Lookup(key)
	return found
}

// String returns the value of key, or def when it is not set.
func (p *Params) String(key string, def string) string {
	v, found := p.Lookup(key)
	if !found {
		return def
	}

	return v
}

// Uint64 returns the value of key as an unsigned integer, or def when it is
// not set. Values may be written in decimal, hex (0x) or octal (0o). A value
// that does not parse is recorded in Err and def is returned.
func (p *Params) Uint64(key string, def uint64) uint64 {
	v, found := p.Lookup(key)
	if !found {
		return def
	}

	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}

	return n
}

// Bool returns the value of key as a boolean, or def when it is not set.
func (p *Params) Bool(key string, def bool) bool {
	v, found := p.Lookup(key)
	if !found {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}

	return b
}

func (p *Params) fail(key, value string, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.errs = append(p.errs,
		fmt.Errorf("parameter %s: cannot parse %q: %w", key, value, err))
}

// Err returns the first value that failed to parse, if any.
func (p *Params) Err() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.errs) == 0 {
		return nil
	}

	return p.errs[0]
}

// Keys returns all the keys that are set, sorted.
func (p *Params) Keys() []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Write prints the parameters as KEY=VALUE lines that Load can read back.
func (p *Params) Write(w io.Writer) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	out, err := godotenv.Marshal(p.values)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, out)

	return err
}
