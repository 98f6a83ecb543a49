package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eddielth/serial-bridge/logger"
)

// SQLiteStorage archives into a local SQLite file.
type SQLiteStorage struct {
	sqlStorage
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bridge_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	channel TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bridge_messages_channel ON bridge_messages(channel);
`

// NewSQLiteStorage opens or creates the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	storage := &SQLiteStorage{
		sqlStorage: sqlStorage{
			db:     db,
			name:   "sqlite",
			schema: sqliteSchema,
			insert: `INSERT INTO bridge_messages (message_id, direction, channel, topic, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		},
		path: path,
	}
	// One writer avoids SQLITE_BUSY.
	storage.configurePool(1)

	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Named("storage").Info("SQLite storage ready: %s", path)
	return storage, nil
}

// Count returns the number of archived messages.
func (s *SQLiteStorage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bridge_messages`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
