// Package config loads YAML configuration files with environment variable
// expansion and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load reads filename over the values already in target, expanding
// ${VAR} references first. Unknown keys are rejected so typos surface.
// overrides run after decoding and before validation.
func Load[T any](filename string, target *T, overrides ...func(*T)) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return validate(target, overrides)
}

// LoadOptional is Load, except a missing file keeps the defaults in
// target. The result is validated either way.
func LoadOptional[T any](filename string, target *T, overrides ...func(*T)) (bool, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return false, validate(target, overrides)
	}
	return true, Load(filename, target, overrides...)
}

func validate[T any](target *T, overrides []func(*T)) error {
	for _, override := range overrides {
		override(target)
	}
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
