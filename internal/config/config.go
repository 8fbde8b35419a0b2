// Package config implements the durable weft configuration store.
//
// The store is a flat INI file. Resource records live in sections named
// "<kind> <profile> <region>" (one key per remote object, mapping its
// identifier to its logical name), dependency groups in "pars <name>"
// sections, and the reserved "aws" section holds the active profile,
// region, default registry repo, staging bucket parameters, and the
// "configured" gate.
//
// Every access is a whole-file read-modify-write cycle under a single
// process-wide lock. There are no partial-write paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/ini.v1"
)

// EnvConfigFile overrides the default config file location.
const EnvConfigFile = "WEFT_CONFIG"

// SectionAWS is the reserved section holding global settings.
const SectionAWS = "aws"

// Keys within the reserved "aws" section.
const (
	KeyProfile      = "profile"
	KeyRegion       = "region"
	KeyRepo         = "ecr-repo"
	KeyBucket       = "s3-bucket"
	KeyBucketPolicy = "s3-bucket-policy"
	KeySSE          = "s3-sse"
	KeyConfigured   = "configured"
)

var mu sync.Mutex

// Path returns the location of the weft config file, creating it (and its
// parent directory) if it does not exist yet.
func Path() (string, error) {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return ensureFile(p)
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return ensureFile(filepath.Join(base, "weft", "config"))
}

func ensureFile(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	_ = f.Close()
	return path, nil
}

// load reads the whole store. Callers must hold mu.
func load() (*ini.File, string, error) {
	path, err := Path()
	if err != nil {
		return nil, "", err
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return f, path, nil
}

// save writes the whole store back. Callers must hold mu.
func save(f *ini.File, path string) error {
	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Get returns the value for key in section, and whether it was present.
func Get(section, key string) (string, bool, error) {
	mu.Lock()
	defer mu.Unlock()

	f, _, err := load()
	if err != nil {
		return "", false, err
	}
	sec, err := f.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return "", false, nil
	}
	return sec.Key(key).String(), true, nil
}

// Set writes key=value in section, creating the section if needed.
func Set(section, key, value string) error {
	mu.Lock()
	defer mu.Unlock()

	f, path, err := load()
	if err != nil {
		return err
	}
	f.Section(section).Key(key).SetValue(value)
	return save(f, path)
}

// AddResource records a remote object under its section. The key is the
// remote identifier (role name, VPC id, job id, ...) and the value is the
// logical name it was created under.
func AddResource(section, key, value string) error {
	return Set(section, key, value)
}

// RemoveResource deletes one recorded object. If the section becomes
// empty it is removed entirely.
func RemoveResource(section, key string) error {
	mu.Lock()
	defer mu.Unlock()

	f, path, err := load()
	if err != nil {
		return err
	}
	sec, err := f.GetSection(section)
	if err != nil {
		return nil // nothing recorded
	}
	sec.DeleteKey(key)
	if len(sec.Keys()) == 0 {
		f.DeleteSection(section)
	}
	return save(f, path)
}

// Section returns a copy of all keys in the named section, or nil if the
// section does not exist.
func Section(name string) (map[string]string, error) {
	mu.Lock()
	defer mu.Unlock()

	f, _, err := load()
	if err != nil {
		return nil, err
	}
	sec, err := f.GetSection(name)
	if err != nil {
		return nil, nil
	}
	out := make(map[string]string, len(sec.Keys()))
	for _, k := range sec.Keys() {
		out[k.Name()] = k.String()
	}
	return out, nil
}

// SetSection replaces the named section with the given key/value set.
func SetSection(name string, kv map[string]string) error {
	mu.Lock()
	defer mu.Unlock()

	f, path, err := load()
	if err != nil {
		return err
	}
	f.DeleteSection(name)
	sec := f.Section(name)
	for k, v := range kv {
		sec.Key(k).SetValue(v)
	}
	return save(f, path)
}

// RemoveSection deletes the named section and everything in it.
func RemoveSection(name string) error {
	mu.Lock()
	defer mu.Unlock()

	f, path, err := load()
	if err != nil {
		return err
	}
	f.DeleteSection(name)
	return save(f, path)
}

// Configured reports whether `weft configure` has been run. No mutating
// resource operation is permitted until this gate is set.
func Configured() (bool, error) {
	v, ok, err := Get(SectionAWS, KeyConfigured)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

// SetConfigured sets the configuration gate.
func SetConfigured(v bool) error {
	val := "false"
	if v {
		val = "true"
	}
	return Set(SectionAWS, KeyConfigured, val)
}
