// Package database persists the room activity journal.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/juju/clock"

	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	dbconfig "collabroom/pkg/database"
	"collabroom/pkg/types"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 1000
)

// ErrManagerClosed is returned once Close has been called
var ErrManagerClosed = errors.New("database manager is closed")

// Manager is the sqlite-backed activity journal. All writes go through one
// goroutine; reads use the connection pool directly.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// writeOperation is either an activity insert or a flush barrier
type writeOperation struct {
	activity *types.Activity
	flushed  chan struct{}
}

// NewManager opens the database at config.DatabasePath and starts the writer
func NewManager(config *dbconfig.Config, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDB(db, config, logger, m), nil
}

// NewManagerWithDB wraps an already opened database
func NewManagerWithDB(db *sql.DB, config *dbconfig.Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if config == nil {
		config = dbconfig.DefaultConfig()
	}
	buffer := config.WriteBuffer
	if buffer <= 0 {
		buffer = dbconfig.DefaultConfig().WriteBuffer
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, buffer),
		shutdown:     make(chan struct{}),
		clock:        clock.WallClock,
		metrics:      m,
		logger:       logging.OrDefault(logger),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager
}

// SetClock replaces the clock used for retry delays. Call before recording.
func (m *Manager) SetClock(clk clock.Clock) {
	if clk != nil {
		m.clock = clk
	}
}

// writeLoop applies queued operations in order and drains the queue on shutdown
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.apply(op)
		case <-m.shutdown:
			for {
				select {
				case op := <-m.writeChannel:
					m.apply(op)
				default:
					m.logger.Debug("journal writer stopped")
					return
				}
			}
		}
	}
}

func (m *Manager) apply(op writeOperation) {
	if op.flushed != nil {
		close(op.flushed)
		return
	}

	// FUNCTIONAL DISCOVERY: A failed insert is retried exactly once after RetryDelay
	err := m.insertActivity(op.activity)
	if err != nil {
		m.logger.Warn("journal write failed, retrying",
			"room_id", op.activity.RoomID, "kind", op.activity.Kind, "delay", m.config.RetryDelay, "error", err)
		if m.config.RetryDelay > 0 {
			<-m.clock.After(m.config.RetryDelay)
		}
		err = m.insertActivity(op.activity)
	}
	if err != nil {
		m.metrics.JournalWriteFailed()
		m.logger.Error("journal write failed after retry",
			"room_id", op.activity.RoomID, "kind", op.activity.Kind, "error", err)
	}
}

func (m *Manager) insertActivity(activity *types.Activity) error {
	_, err := m.db.Exec(`
		INSERT INTO room_activity (id, room_id, kind, connection_id, display_name, member_count, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		activity.ID,
		activity.RoomID,
		activity.Kind,
		activity.ConnectionID,
		activity.DisplayName,
		activity.MemberCount,
		activity.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// RecordActivity queues a record without blocking. A full queue drops the record.
func (m *Manager) RecordActivity(activity *types.Activity) {
	if activity == nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.writeChannel <- writeOperation{activity: activity}:
	default:
		m.metrics.JournalWriteFailed()
		m.logger.Warn("journal queue full, activity dropped", "room_id", activity.RoomID, "kind", activity.Kind)
	}
}

// Flush waits until every record queued before the call has been written
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	flushed := make(chan struct{})
	select {
	case m.writeChannel <- writeOperation{flushed: flushed}:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListRoomActivity returns up to limit records for roomID, newest first.
// limit <= 0 means the default of 100; values above 1000 are capped.
func (m *Manager) ListRoomActivity(ctx context.Context, roomID string, limit int) ([]*types.Activity, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, kind, connection_id, display_name, member_count, occurred_at
		FROM room_activity
		WHERE room_id = ?
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	activities := make([]*types.Activity, 0)
	for rows.Next() {
		var activity types.Activity
		if err := rows.Scan(
			&activity.ID,
			&activity.RoomID,
			&activity.Kind,
			&activity.ConnectionID,
			&activity.DisplayName,
			&activity.MemberCount,
			&activity.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		activities = append(activities, &activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}

	return activities, nil
}

// HealthCheck validates connectivity and that the journal table is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_activity").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close writes pending records, stops the writer and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
