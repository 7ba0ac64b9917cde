package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/hark/internal/journal"
)

// ---- mock DB ----

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		case *float64:
			*d = v.(float64)
		case *bool:
			*d = v.(bool)
		case *int64:
			*d = v.(int64)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	rows    *mockRows
	execErr error
	execs   []execCall
}

func (m *mockDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if m.rows == nil {
		return &mockRows{}, nil
	}
	return m.rows, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

// ---- unit tests ----

func TestStore_Append(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := New(db)
	err := s.Append(context.Background(), journal.Entry{
		SessionID:       "abc",
		Outcome:         journal.OutcomeCompleted,
		Intent:          "set_timer",
		Entities:        map[string]string{"duration": "5 minutes"},
		Success:         true,
		CaptureDuration: 2500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(db.execs))
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "ON CONFLICT (session_id) DO NOTHING") {
		t.Errorf("insert is not idempotent: %s", call.sql)
	}
	if call.args[0] != "abc" {
		t.Errorf("session_id arg = %v", call.args[0])
	}
	var entities map[string]string
	if err := json.Unmarshal(call.args[9].([]byte), &entities); err != nil || entities["duration"] != "5 minutes" {
		t.Errorf("entities arg = %s (%v)", call.args[9], err)
	}
	if call.args[12] != int64(2500) {
		t.Errorf("capture_ms arg = %v, want 2500", call.args[12])
	}
}

func TestStore_AppendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	s := New(&mockDB{execErr: boom})
	if err := s.Append(context.Background(), journal.Entry{SessionID: "x"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestStore_Recent(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC)
	db := &mockDB{rows: &mockRows{data: [][]any{{
		"abc", started, journal.OutcomeCompleted, "hey hark", 0.9,
		"what time is it", "whisper", 0.8, "time", []byte(`{}`),
		true, "It's currently 10:15 AM.", int64(1500), int64(300), int64(2100),
	}}}}
	got, err := New(db).Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	e := got[0]
	if e.SessionID != "abc" || !e.StartedAt.Equal(started) || e.Engine != "whisper" || !e.Success {
		t.Errorf("entry = %+v", e)
	}
	if e.RecognitionLatency != 300*time.Millisecond || e.TotalDuration != 2100*time.Millisecond {
		t.Errorf("durations = %v %v", e.RecognitionLatency, e.TotalDuration)
	}
}

func TestStore_Migrate(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	if err := New(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].sql != Schema {
		t.Errorf("Migrate executed %+v", db.execs)
	}
}

// ---- integration ----

// testDSN returns the test database DSN from the environment, or skips the
// test if HARK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HARK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HARK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestIntegration_AppendRecent(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.db.Exec(ctx, "TRUNCATE command_journal"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := range 3 {
		e := journal.Entry{
			SessionID: fmt.Sprintf("it-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Outcome:   journal.OutcomeCompleted,
			Intent:    "time",
			Success:   true,
		}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "it-2" || got[1].SessionID != "it-1" {
		t.Errorf("Recent = %+v", got)
	}
}
