package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"

	"github.com/elskow/folio-auth/internal/config"
)

const modulePath = "github.com/elskow/folio-auth"

var errNoMigrationsDir = errors.New("migrations directory not found")

// resolveMigrationsDir finds the goose sources. In order: the configured
// directory, <module root>/migrations when running from a checkout, and
// migrations/ next to the executable for packaged deployments.
func resolveMigrationsDir(cfg *config.DatabaseConfig) (string, error) {
	if cfg.MigrationsDir != "" {
		dir, err := filepath.Abs(cfg.MigrationsDir)
		if err != nil {
			return "", err
		}
		if !isDir(dir) {
			return "", fmt.Errorf("%w: %s", errNoMigrationsDir, dir)
		}
		return dir, nil
	}

	if root, err := findModuleRoot(); err == nil {
		if dir := filepath.Join(root, "migrations"); isDir(dir) {
			return dir, nil
		}
	}

	if exe, err := os.Executable(); err == nil {
		if dir := filepath.Join(filepath.Dir(exe), "migrations"); isDir(dir) {
			return dir, nil
		}
	}

	return "", errNoMigrationsDir
}

// findModuleRoot walks up from the working directory to this module's go.mod.
func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		content, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil && modfile.ModulePath(content) == modulePath {
			return dir, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod for %s not found", modulePath)
		}
		dir = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
