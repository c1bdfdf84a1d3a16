package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	dbconfig "collabroom/pkg/database"
	"collabroom/pkg/interfaces"
	"collabroom/pkg/types"
)

var _ interfaces.ActivityJournal = (*Manager)(nil)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "journal.db")

	manager, err := NewManager(config, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if _, err := dbconfig.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func activityAt(id, roomID, kind string, at time.Time) *types.Activity {
	return &types.Activity{
		ID:           id,
		RoomID:       roomID,
		Kind:         kind,
		ConnectionID: "conn-" + id,
		DisplayName:  "Alice",
		MemberCount:  1,
		OccurredAt:   at,
	}
}

func TestManager_RecordAndList(t *testing.T) {
	manager := setupTestManager(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	manager.RecordActivity(activityAt("a1", "room", types.ActivityRoomOpened, base))
	manager.RecordActivity(activityAt("a2", "room", types.ActivityMemberJoined, base.Add(time.Second)))
	manager.RecordActivity(activityAt("a3", "room", types.ActivityMemberLeft, base.Add(2*time.Second)))
	manager.RecordActivity(activityAt("b1", "other", types.ActivityRoomOpened, base))

	if err := manager.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	activities, err := manager.ListRoomActivity(ctx, "room", 2)
	if err != nil {
		t.Fatalf("ListRoomActivity failed: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("Expected 2 activities, got %d", len(activities))
	}
	if activities[0].ID != "a3" || activities[1].ID != "a2" {
		t.Errorf("Expected newest first [a3 a2], got [%s %s]", activities[0].ID, activities[1].ID)
	}
	if !activities[0].OccurredAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Timestamp not preserved: %v", activities[0].OccurredAt)
	}
	if activities[0].ConnectionID != "conn-a3" || activities[0].DisplayName != "Alice" {
		t.Errorf("Fields not preserved: %+v", activities[0])
	}

	all, err := manager.ListRoomActivity(ctx, "room", 0)
	if err != nil || len(all) != 3 {
		t.Errorf("Default limit should return all 3 records, got %d (%v)", len(all), err)
	}

	none, err := manager.ListRoomActivity(ctx, "missing", 10)
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("Unknown room should return an empty list, got %v (%v)", none, err)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	manager := setupTestManager(t)
	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestManager_CloseDrainsQueue(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "drain.db")

	manager, err := NewManager(config, logging.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dbconfig.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		manager.RecordActivity(activityAt(string(rune('a'+i)), "room", types.ActivityMemberJoined, time.Now()))
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	reopened, err := NewManager(config, logging.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()

	activities, err := reopened.ListRoomActivity(context.Background(), "room", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(activities) != 20 {
		t.Errorf("Expected all 20 queued records written on close, got %d", len(activities))
	}
}

func TestManager_ClosedManager(t *testing.T) {
	manager := setupTestManager(t)
	if err := manager.Close(); err != nil {
		t.Fatal(err)
	}

	// Must not panic
	manager.RecordActivity(activityAt("late", "room", types.ActivityRoomOpened, time.Now()))

	if err := manager.Flush(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestManager_RetriesOnceThenSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}

	config := dbconfig.DefaultConfig()
	config.RetryDelay = 0
	m := metrics.New(nil)
	manager := NewManagerWithDB(db, config, logging.Discard(), m)

	mock.ExpectExec("INSERT INTO room_activity").WillReturnError(errors.New("database is locked"))
	mock.ExpectExec("INSERT INTO room_activity").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	manager.RecordActivity(activityAt("r1", "room", types.ActivityRoomOpened, time.Now()))
	if err := manager.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.JournalErrors); got != 0 {
		t.Errorf("Successful retry should not count an error, got %v", got)
	}

	if err := manager.Close(); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestManager_RetryFailureCountsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}

	config := dbconfig.DefaultConfig()
	config.RetryDelay = 5 * time.Second
	m := metrics.New(nil)
	manager := NewManagerWithDB(db, config, logging.Discard(), m)
	clk := testclock.NewClock(time.Now())
	manager.SetClock(clk)

	mock.ExpectExec("INSERT INTO room_activity").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectExec("INSERT INTO room_activity").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectClose()

	manager.RecordActivity(activityAt("r1", "room", types.ActivityRoomOpened, time.Now()))

	// The writer blocks on the retry delay until the clock advances
	if err := clk.WaitAdvance(config.RetryDelay, time.Second, 1); err != nil {
		t.Fatalf("Writer never waited for the retry delay: %v", err)
	}
	if err := manager.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.JournalErrors); got != 1 {
		t.Errorf("Expected one journal error, got %v", got)
	}

	if err := manager.Close(); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestManager_ListLimitIsCapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	manager := NewManagerWithDB(db, dbconfig.DefaultConfig(), logging.Discard(), nil)

	mock.ExpectQuery("SELECT (.+) FROM room_activity").
		WithArgs("room", maxActivityLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "room_id", "kind", "connection_id", "display_name", "member_count", "occurred_at"}).
			AddRow("x", "room", types.ActivityRoomOpened, "c1", "Alice", 1, time.Now()))
	mock.ExpectClose()

	activities, err := manager.ListRoomActivity(context.Background(), "room", 50000)
	if err != nil {
		t.Fatalf("ListRoomActivity failed: %v", err)
	}
	if len(activities) != 1 {
		t.Errorf("Expected 1 activity, got %d", len(activities))
	}

	_ = manager.Close()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
