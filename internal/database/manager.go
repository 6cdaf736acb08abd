package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "chatterbox/pkg/database"
	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// Manager implements the DatabaseManager interface on SQLite.
// ARCHITECTURAL DISCOVERY: Every write goes through one goroutine; reads use
// the pool directly. SQLite allows one writer at a time anyway, and queuing
// in Go avoids SQLITE_BUSY churn under load.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and starts
// the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", dbconfig.DSN(config.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	for _, pragma := range dbconfig.SQLitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if err := dbconfig.NewMigrationManager(db, dbconfig.EmbeddedMigrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: One retry after RetryDelay covers a transient
			// lock held by an external reader such as a backup.
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in %v: %v", m.config.RetryDelay, err)
				time.Sleep(m.config.RetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// SaveUser inserts a user; an existing username is left as is.
func (m *Manager) SaveUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (username, password) VALUES (?, ?) ON CONFLICT(username) DO NOTHING`,
			user.Username, user.Password,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// SaveRoom upserts the room and rewrites its member list in order.
func (m *Manager) SaveRoom(ctx context.Context, room *types.Room) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO rooms (name, admin, is_private, password)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				admin = excluded.admin,
				is_private = excluded.is_private,
				password = excluded.password
		`, room.Name, room.Admin, room.IsPrivate, room.Password)
		if err != nil {
			return fmt.Errorf("failed to upsert room: %w", err)
		}

		if _, err = tx.ExecContext(ctx, `DELETE FROM room_members WHERE room = ?`, room.Name); err != nil {
			return fmt.Errorf("failed to clear room members: %w", err)
		}

		for i, member := range room.Members {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO room_members (room, username, position) VALUES (?, ?, ?)`,
				room.Name, member, i,
			)
			if err != nil {
				return fmt.Errorf("failed to insert room member %s: %w", member, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit room: %w", err)
		}
		return nil
	})
}

// DeleteRoom removes a room, its members (by cascade) and its history.
func (m *Manager) DeleteRoom(ctx context.Context, name string) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err = tx.ExecContext(ctx, `DELETE FROM rooms WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation = ?`, name); err != nil {
			return fmt.Errorf("failed to delete room history: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit room deletion: %w", err)
		}
		return nil
	})
}

// SaveMessage upserts an envelope. A conflicting row keeps its position and
// takes the new status and media, which is how uploading becomes sent.
func (m *Manager) SaveMessage(ctx context.Context, conversationID string, env *types.Envelope) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (conversation, sender, timestamp, type, recipient, text, media, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation, sender, timestamp) DO UPDATE SET
				media = excluded.media,
				status = excluded.status
		`, conversationID, env.Sender, env.Timestamp, env.Type, env.Recipient, env.Text, env.Media, env.Status)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// LoadUsers returns users in registration order.
func (m *Manager) LoadUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT username, password FROM users ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.Username, &u.Password); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// LoadRooms returns rooms in creation order with members in join order.
func (m *Manager) LoadRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT r.name, r.admin, r.is_private, r.password, COALESCE(rm.username, '')
		FROM rooms r
		LEFT JOIN room_members rm ON rm.room = r.name
		ORDER BY r.rowid, rm.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	byName := make(map[string]*types.Room)
	for rows.Next() {
		var (
			r      types.Room
			member string
		)
		if err := rows.Scan(&r.Name, &r.Admin, &r.IsPrivate, &r.Password, &member); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}

		room, ok := byName[r.Name]
		if !ok {
			room = &r
			byName[r.Name] = room
			rooms = append(rooms, room)
		}
		if member != "" {
			room.Members = append(room.Members, member)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

// LoadHistory returns every conversation's messages in insertion order.
func (m *Manager) LoadHistory(ctx context.Context) (map[string][]types.Envelope, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT conversation, sender, timestamp, type, recipient, text, media, status
		FROM messages
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := make(map[string][]types.Envelope)
	for rows.Next() {
		var (
			conversation string
			env          types.Envelope
		)
		err := rows.Scan(&conversation, &env.Sender, &env.Timestamp, &env.Type,
			&env.Recipient, &env.Text, &env.Media, &env.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		history[conversation] = append(history[conversation], env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return history, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying pool for schema tooling.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call twice.
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
