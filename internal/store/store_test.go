package store

import (
	"context"
	"errors"
	"testing"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// newTestStore opens an in-memory SQLite store migrated with the weather table.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatal("Open() error = nil, want unsupported driver error")
	}
}

func TestOpen_MySQLRequiresDSN(t *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}); err == nil {
		t.Fatal("Open() error = nil, want missing dsn error")
	}
}

func TestGormStore_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.WeatherRecord{City: "Paris", Temperature: 18.5, Humidity: 60, Condition: "Cloudy"}
	if err := s.Create(ctx, &rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID == 0 {
		t.Error("Create() did not assign ID")
	}
	if rec.Version != 1 {
		t.Errorf("Create() Version = %d, want 1", rec.Version)
	}

	got, ok, err := s.FindByCity(ctx, "Paris")
	if err != nil {
		t.Fatalf("FindByCity() error = %v", err)
	}
	if !ok {
		t.Fatal("FindByCity() ok = false, want true")
	}
	if got.Temperature != 18.5 || got.Humidity != 60 || got.Condition != "Cloudy" {
		t.Errorf("FindByCity() = %+v, want stored fields", got)
	}
}

func TestGormStore_FindByCity_Absent(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.FindByCity(context.Background(), "Atlantis")
	if err != nil {
		t.Fatalf("FindByCity() error = %v, want nil for absent", err)
	}
	if ok {
		t.Error("FindByCity() ok = true, want false")
	}
}

func TestGormStore_Create_DuplicateCity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := models.WeatherRecord{City: "Oslo", Temperature: 2}
	if err := s.Create(ctx, &first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second := models.WeatherRecord{City: "Oslo", Temperature: 5}
	err := s.Create(ctx, &second)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Create() duplicate error = %v, want ErrConflict", err)
	}
}

func TestGormStore_Update_IncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.WeatherRecord{City: "Rome", Temperature: 25, Humidity: 40, Condition: "Sunny"}
	if err := s.Create(ctx, &rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec.Temperature = 27
	if err := s.Update(ctx, &rec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("Update() Version = %d, want 2", rec.Version)
	}

	got, _, _ := s.FindByCity(ctx, "Rome")
	if got.Temperature != 27 || got.Version != 2 {
		t.Errorf("stored = %+v, want temperature 27 version 2", got)
	}
}

// TestGormStore_Update_StaleVersion verifies that the loser of a concurrent update
// gets ErrVersionConflict instead of silently overwriting the winner.
func TestGormStore_Update_StaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.WeatherRecord{City: "Lima", Temperature: 19}
	if err := s.Create(ctx, &rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writerA := rec
	writerB := rec

	writerA.Temperature = 20
	if err := s.Update(ctx, &writerA); err != nil {
		t.Fatalf("Update() writer A error = %v", err)
	}
	writerB.Temperature = 21
	err := s.Update(ctx, &writerB)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Update() writer B error = %v, want ErrVersionConflict", err)
	}

	got, _, _ := s.FindByCity(ctx, "Lima")
	if got.Temperature != 20 {
		t.Errorf("stored temperature = %v, want 20 (writer A)", got.Temperature)
	}
}

func TestGormStore_DeleteAndFindAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	all, err := s.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("FindAll() on empty table = %#v, want empty non-nil slice", all)
	}

	for _, city := range []string{"Berlin", "Madrid"} {
		rec := models.WeatherRecord{City: city}
		if err := s.Create(ctx, &rec); err != nil {
			t.Fatalf("Create(%s) error = %v", city, err)
		}
	}
	berlin, _, _ := s.FindByCity(ctx, "Berlin")
	if err := s.Delete(ctx, berlin); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	all, err = s.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(all) != 1 || all[0].City != "Madrid" {
		t.Errorf("FindAll() = %+v, want only Madrid", all)
	}
}

func TestGormStore_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

// TestGormStore_FindByCity_ExactMatchUnderCaseInsensitiveCollation recreates the table with a
// case-insensitive city column, as MySQL's default collation behaves, and checks that a
// differently cased lookup does not return the stored row.
func TestGormStore_FindByCity_ExactMatchUnderCaseInsensitiveCollation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.db.Exec("DROP TABLE weather").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}
	err := s.db.Exec(`CREATE TABLE weather (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL DEFAULT 1,
		city VARCHAR(100) NOT NULL UNIQUE COLLATE NOCASE,
		temperature REAL,
		humidity INTEGER,
		condition VARCHAR(255)
	)`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	rec := models.WeatherRecord{City: "Paris", Temperature: 18.5}
	if err := s.Create(ctx, &rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, ok, err := s.FindByCity(ctx, "paris"); err != nil || ok {
		t.Errorf("FindByCity(paris) = ok %v, err %v; want false, nil", ok, err)
	}
	got, ok, err := s.FindByCity(ctx, "Paris")
	if err != nil || !ok || got.City != "Paris" {
		t.Errorf("FindByCity(Paris) = %+v, %v, %v; want stored record", got, ok, err)
	}
}
