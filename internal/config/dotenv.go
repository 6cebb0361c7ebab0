package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// defaultEnvFile is loaded when present and no explicit file is named.
const defaultEnvFile = ".env"

// LoadEnvFile populates the process environment from a dotenv file before
// flags are parsed, so env-backed flags observe it. Variables already set in
// the environment win. An explicit path must exist; the default .env is
// optional. It returns the file that was loaded, or "" when none was.
func LoadEnvFile(path string) (string, error) {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return path, nil
}
