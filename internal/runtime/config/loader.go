package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// SearchNames are tried in order by Find.
var SearchNames = []string{"botflow.yaml", "botflow.yml", "config.yaml", "config.yml"}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// LookupFunc resolves an environment variable.
type LookupFunc func(name string) (string, bool)

// Expand replaces ${NAME} and ${NAME:-default} references. A set variable
// wins even when empty; an unset variable without default expands to "".
func Expand(raw string, lookup LookupFunc) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if v, ok := lookup(groups[1]); ok {
			return v
		}
		if groups[2] != "" {
			return groups[3]
		}
		return ""
	})
}

// Load reads, expands and parses the file at path, then validates it.
func Load(path string) (*Config, error) {
	return LoadWithLookup(path, os.LookupEnv)
}

// LoadWithLookup is Load with an explicit environment.
func LoadWithLookup(path string, lookup LookupFunc) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseWithLookup(data, lookup)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data using the process
// environment, decodes it over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	return ParseWithLookup(data, os.LookupEnv)
}

// ParseWithLookup is Parse with an explicit environment.
func ParseWithLookup(data []byte, lookup LookupFunc) (*Config, error) {
	expanded := Expand(string(data), lookup)

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find returns the first of SearchNames present in dir.
func Find(dir string) (string, error) {
	for _, name := range SearchNames {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no config file found in %s (looked for %v): %w", dir, SearchNames, fs.ErrNotExist)
}
