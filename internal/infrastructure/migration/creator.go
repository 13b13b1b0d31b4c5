package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	versionWidth = 6
	upSuffix     = ".up.sql"
	downSuffix   = ".down.sql"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// MigrationFile is a created up/down pair.
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	UpPath      string
	DownPath    string
}

func (mf *MigrationFile) header(rollback bool) string {
	var b strings.Builder
	title := mf.Name
	if rollback {
		title += " (Rollback)"
	}
	fmt.Fprintf(&b, "-- %s %s\n", mf.Version, title)
	fmt.Fprintf(&b, "-- Created: %s\n", time.Now().UTC().Format(time.RFC3339))
	if mf.Description != "" && !rollback {
		fmt.Fprintf(&b, "-- %s\n", mf.Description)
	}
	return b.String() + "\n"
}

// CreateMigration writes the next sequential pair into dir, e.g.
// 000004_add_cursor_index.up.sql and 000004_add_cursor_index.down.sql.
// Existing files are never overwritten.
func CreateMigration(dir, name, description string) (*MigrationFile, error) {
	slug := sanitizeName(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	existing, err := ListMigrations(os.DirFS(dir), ".")
	if err != nil {
		return nil, err
	}

	version := fmt.Sprintf("%0*d", versionWidth, nextVersion(existing))
	stem := filepath.Join(dir, version+"_"+slug)
	mf := &MigrationFile{
		Version:     version,
		Name:        name,
		Description: description,
		UpPath:      stem + upSuffix,
		DownPath:    stem + downSuffix,
	}

	if err := writeNew(mf.UpPath, mf.header(false)); err != nil {
		return nil, err
	}
	if err := writeNew(mf.DownPath, mf.header(true)); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, err
	}
	return mf, nil
}

func writeNew(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	_, err = f.WriteString(content)
	return errors.Join(err, f.Close())
}

func nextVersion(names []string) int {
	highest := 0
	for _, n := range names {
		prefix, _, _ := strings.Cut(n, "_")
		if v, err := strconv.Atoi(prefix); err == nil {
			highest = max(highest, v)
		}
	}
	return highest + 1
}

// sanitizeName lowercases name and collapses every run of other characters
// into a single underscore.
func sanitizeName(name string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// ListMigrations returns the sorted base names of the up migrations in dir.
// A missing directory yields an empty list.
func ListMigrations(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if base, ok := strings.CutSuffix(e.Name(), upSuffix); ok && !e.IsDir() {
			names = append(names, base)
		}
	}
	slices.Sort(names)
	return names, nil
}
