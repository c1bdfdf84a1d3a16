package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that the journal schema matches what the code expects
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"room_activity":     "Room lifecycle journal",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	activityColumns := map[string]string{
		"id":            "TEXT",
		"room_id":       "TEXT",
		"kind":          "TEXT",
		"connection_id": "TEXT",
		"display_name":  "TEXT",
		"member_count":  "INTEGER",
		"occurred_at":   "DATETIME",
	}

	if err := v.validateColumns("room_activity", activityColumns); err != nil {
		return fmt.Errorf("room_activity table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the query indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_room_activity_room_time": "Per-room activity listing",
		"idx_room_activity_kind":      "Activity kind filtering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that unknown activity kinds are rejected
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO room_activity (id, room_id, kind, occurred_at)
		VALUES ('schema-check', 'schema-check', 'invalid_kind', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM room_activity WHERE id = 'schema-check'")
		return fmt.Errorf("check constraint not enforced: room_activity.kind")
	}
	return nil
}

func (v *SchemaValidator) objectExists(objectType, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		objectType, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expectedType := range expectedColumns {
		foundType, exists := foundColumns[column]
		if !exists {
			return fmt.Errorf("column %s not found", column)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", column, foundType, expectedType)
		}
	}
	return nil
}
