package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// DatabaseType
type DatabaseType string

const (
	// MySQL
	MySQL DatabaseType = "mysql"
	// PostgreSQL
	PostgreSQL DatabaseType = "postgresql"
	// SQLite
	SQLite DatabaseType = "sqlite"
)

// DatabaseStorage
type DatabaseStorage interface {
	StorageBackend
	// InitDatabase creates the message table if needed.
	InitDatabase() error
}

// NewDatabaseStorage
func NewDatabaseStorage(dbType string, dsn string) (DatabaseStorage, error) {
	switch DatabaseType(dbType) {
	case MySQL:
		return NewMySQLStorage(dsn)
	case PostgreSQL:
		return NewPostgreSQLStorage(dsn)
	case SQLite:
		return NewSQLiteStorage(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// sqlStorage is the part of every SQL backend that only differs in
// dialect: the schema and the insert statement.
type sqlStorage struct {
	db     *sql.DB
	name   string
	schema string
	insert string
}

func (s *sqlStorage) configurePool(maxOpen int) {
	s.db.SetMaxOpenConns(maxOpen)
	s.db.SetMaxIdleConns(max(1, maxOpen/2))
	s.db.SetConnMaxLifetime(time.Minute * 5)
}

// InitDatabase 初始化数据库和表
func (s *sqlStorage) InitDatabase() error {
	if _, err := s.db.Exec(s.schema); err != nil {
		return fmt.Errorf("create %s message table failed: %w", s.name, err)
	}
	return nil
}

// Store 将记录写入数据库
func (s *sqlStorage) Store(rec Record) error {
	_, err := s.db.Exec(s.insert,
		rec.ID, string(rec.Direction), rec.Channel, rec.Topic, rec.Payload, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert into %s failed: %w", s.name, err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *sqlStorage) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s failed: %w", s.name, err)
	}
	return nil
}
