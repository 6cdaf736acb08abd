package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Kept apart from MigrationManager so startup and
// tests can verify a database that someone else migrated.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure.
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
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
		"users":             "Registered accounts",
		"rooms":             "Room definitions",
		"room_members":      "Ordered room membership",
		"messages":          "Conversation history",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"users": {
			"username": "TEXT",
			"password": "TEXT",
		},
		"rooms": {
			"name":       "TEXT",
			"admin":      "TEXT",
			"is_private": "INTEGER",
			"password":   "TEXT",
		},
		"room_members": {
			"room":     "TEXT",
			"username": "TEXT",
			"position": "INTEGER",
		},
		"messages": {
			"conversation": "TEXT",
			"sender":       "TEXT",
			"timestamp":    "TEXT",
			"type":         "TEXT",
			"recipient":    "TEXT",
			"text":         "TEXT",
			"media":        "TEXT",
			"status":       "TEXT",
		},
	}

	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}

	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_room_members_position": "Member order on load",
		"idx_messages_conversation": "History retrieval",
		"idx_messages_recipient":    "Direct message lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that the database enforces the room
// invariants. It runs inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Membership must reference an existing room.
	if _, err := tx.Exec(`INSERT INTO room_members (room, username, position) VALUES ('__missing__', 'u', 0)`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: room_members.room")
	}

	// A private room without a password violates the room check.
	if _, err := tx.Exec(`INSERT INTO rooms (name, admin, is_private, password) VALUES ('__check__', 'u', 1, '')`); err == nil {
		return fmt.Errorf("check constraint not enforced: private room password")
	}

	if _, err := tx.Exec(`INSERT INTO messages (conversation, sender, timestamp, type) VALUES ('c', 's', 't', 'broadcast')`); err == nil {
		return fmt.Errorf("check constraint not enforced: message type")
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull      int
			defaultValue interface{}
			pk           int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = ctype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expectedColumns {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}

	return nil
}
