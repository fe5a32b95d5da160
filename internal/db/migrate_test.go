package db

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":  {Data: []byte("SELECT 10;")},
		"002_b.sql":     {Data: []byte("SELECT 2;")},
		"001_a.sql":     {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("docs")},
		"notes.sql":     {Data: []byte("SELECT 0;")},
		"abc_name.sql":  {Data: []byte("SELECT 0;")},
		"sub/003_x.sql": {Data: []byte("SELECT 3;")},
	}

	migs, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(migs) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migs))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migs[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migs[i].Version)
		}
	}
	if migs[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL %q", migs[0].SQL)
	}
}

func TestLoadMigrations_RejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := LoadMigrations(Migrations())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migs) < 3 {
		t.Fatalf("expected at least 3 embedded migrations, got %d", len(migs))
	}

	var all strings.Builder
	for _, m := range migs {
		all.WriteString(m.SQL)
	}
	for _, table := range []string{"doctors", "doctor_availability", "appointments", "messages"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("expected migration for table %s", table)
		}
	}
	if !strings.Contains(all.String(), "appointments_scheduled_slot_uniq") {
		t.Error("expected partial unique index on scheduled appointments")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "appointments_scheduled_slot_uniq"}

	if !IsUniqueViolation(err, "") {
		t.Error("expected any-constraint match")
	}
	if !IsUniqueViolation(err, "appointments_scheduled_slot_uniq") {
		t.Error("expected named constraint match")
	}
	if IsUniqueViolation(err, "other_idx") {
		t.Error("expected mismatch for other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Error("plain error is not a unique violation")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23503", ConstraintName: "appointments_patient_id_fkey"}
	if !IsForeignKeyViolation(err, "appointments_patient_id_fkey") {
		t.Error("expected named constraint match")
	}
	if IsForeignKeyViolation(err, "appointments_doctor_id_fkey") {
		t.Error("expected mismatch for other constraint")
	}
	if IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}, "") {
		t.Error("unique violation is not a foreign key violation")
	}
}
