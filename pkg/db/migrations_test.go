package db

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_SortedWithNames(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
	})

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}

	want := []Migration{
		{Name: "0001_first.sql", SQL: "FIRST"},
		{Name: "0002_second.sql", SQL: "SECOND"},
		{Name: "0003_third.sql", SQL: "THIRD"},
	}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("%s - LoadMigrationFiles() = %+v, want %+v", migrationsTestPrefix, result, want)
	}
}

func TestLoadMigrationFiles_SkipsNonSQLAndDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0001_create.sql": "CREATE TABLE t1;",
		"README.md":       "# Migrations",
		"config.json":     "{}",
	})
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatalf("%s - failed to create subdir: %v", migrationsTestPrefix, err)
	}

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) != 1 || result[0].Name != "0001_create.sql" {
		t.Errorf("%s - expected only 0001_create.sql, got %+v", migrationsTestPrefix, result)
	}
}

func TestLoadMigrationFiles_EmptyAndMissingDir(t *testing.T) {
	result, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) != 0 {
		t.Errorf("%s - expected empty result, got %d items", migrationsTestPrefix, len(result))
	}

	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_RepositoryMigrations(t *testing.T) {
	result, err := LoadMigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) == 0 || result[0].Name != "0001_init_state.sql" {
		t.Fatalf("%s - expected 0001_init_state.sql first, got %+v", migrationsTestPrefix, result)
	}
}

func TestSplitMigrations(t *testing.T) {
	migrations := []Migration{{Name: "0001.sql"}, {Name: "0002.sql"}, {Name: "0003.sql"}}

	tests := []struct {
		name        string
		applied     map[string]bool
		wantApplied []string
		wantPending []string
	}{
		{name: "fresh database", applied: map[string]bool{}, wantPending: []string{"0001.sql", "0002.sql", "0003.sql"}},
		{name: "partially applied", applied: map[string]bool{"0001.sql": true}, wantApplied: []string{"0001.sql"}, wantPending: []string{"0002.sql", "0003.sql"}},
		{name: "fully applied", applied: map[string]bool{"0001.sql": true, "0002.sql": true, "0003.sql": true}, wantApplied: []string{"0001.sql", "0002.sql", "0003.sql"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := splitMigrations(migrations, tt.applied)
			if !reflect.DeepEqual(state.Applied, tt.wantApplied) {
				t.Errorf("%s - Applied = %v, want %v", migrationsTestPrefix, state.Applied, tt.wantApplied)
			}
			if !reflect.DeepEqual(state.Pending, tt.wantPending) {
				t.Errorf("%s - Pending = %v, want %v", migrationsTestPrefix, state.Pending, tt.wantPending)
			}
		})
	}
}
