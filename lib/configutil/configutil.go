package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

func localPath(name string) string {
	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))
	return filepath.Join(
		dirname,
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
}

// ReadConfigOver reads a configuration file on top of `defaults`, `name`
// should come with a file extension, it will automatically be lopped off to
// produce the other extensions.
// this function will merge the following files, where higher number is more prioritized.
// 0. defaults
// 1. <name>.<ext>
// 2. <name>.local.<ext>
//
// os.ErrNotExist is returned (along with the defaults) if neither file exists.
func ReadConfigOver[T any](name string, defaults T) (T, error) {
	out := defaults
	allNotFound := true

	for _, path := range []string{name, localPath(name)} {
		contents, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return out, err
		}
		if len(contents) == 0 {
			continue
		}

		var override T
		err = json5.Unmarshal(contents, &override)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", path, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Debug("merged config file", "path", path)
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfig is ReadConfigOver with the zero value of T as defaults.
func ReadConfig[T any](name string) (T, error) {
	var zero T
	return ReadConfigOver(name, zero)
}

// ReadConfig but it recursively goes up the filesystem until the root
// to find a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return defaultOut, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return defaultOut, os.ErrNotExist
		}
		current = parent
	}
}

// LoadDotenv loads KEY=VALUE pairs from the given files (default `.env`)
// into the environment, variables that are already set are kept. Missing
// files are not an error.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		err = godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		slog.Debug("loaded environment file", "path", path)
	}
	return nil
}

// EnvOr returns the value of the environment variable `key`, or fallback
// if it is unset or empty.
func EnvOr(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}
