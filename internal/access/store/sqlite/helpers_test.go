package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	sqlitestore "github.com/FERLEY2004/QRRR-sub001/internal/access/store/sqlite"
	"github.com/FERLEY2004/QRRR-sub001/internal/db"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// openTestDB returns a migrated in-memory database named after the test.
// Shared cache keeps it alive while the pool holds its single connection.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if _, err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()
	conn := openTestDB(t)
	return sqlitestore.New(conn, newTestWriter(t, conn)), conn
}

func testPerson(id, doc string, role model.Role) model.Person {
	return model.Person{
		ID:             id,
		DocumentNumber: doc,
		DocumentType:   "CC",
		GivenNames:     "Ana",
		Surnames:       "Perez",
		DisplayName:    "Ana Perez",
		Role:           role,
		Status:         model.StatusActive,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func insertPerson(t *testing.T, s *sqlitestore.Store, p model.Person) {
	t.Helper()
	err := s.Atomically(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPerson(ctx, p)
	})
	if err != nil {
		t.Fatalf("InsertPerson %s: %v", p.ID, err)
	}
}

func appendEvent(t *testing.T, s *sqlitestore.Store, id, personID string, dir model.Direction, at time.Time) {
	t.Helper()
	err := s.Atomically(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.AppendEvent(ctx, model.AccessEvent{ID: id, PersonID: personID, Direction: dir, OccurredAt: at})
	})
	if err != nil {
		t.Fatalf("AppendEvent %s: %v", id, err)
	}
}

// seedPlacement puts personID in a MORNING group assigned to envID.
func seedPlacement(t *testing.T, conn *sql.DB, personID, group, envID string, capacity int) {
	t.Helper()
	ctx := context.Background()
	if _, err := conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO environments(environment_id, name, capacity) VALUES (?, ?, ?)`,
		envID, "Ambiente "+envID, capacity); err != nil {
		t.Fatalf("seed environment: %v", err)
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO training_groups(group_code, program, shift, environment_id) VALUES (?, 'ADSO', 'MORNING', ?)`,
		group, envID); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO person_groups(person_id, group_code) VALUES (?, ?)`,
		personID, group); err != nil {
		t.Fatalf("seed person_group: %v", err)
	}
}
