package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DotEnvFiles returns the env files a node reads before Load: the
// comma-separated ENV_FILE list when set, otherwise .env.local then .env.
func DotEnvFiles() []string {
	if files := parseList(os.Getenv("ENV_FILE")); len(files) > 0 {
		return files
	}
	return []string{".env.local", ".env"}
}

// LoadDotEnv loads env vars from each existing file in order and returns
// the files it read. Process env vars are never overwritten, so a value in
// an earlier file wins over the same key in a later one.
func LoadDotEnv(paths ...string) ([]string, error) {
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("stat %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("load %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}
