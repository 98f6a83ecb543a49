package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/eddielth/serial-bridge/logger"
)

// MySQLStorage 表示MySQL数据库存储后端
type MySQLStorage struct {
	sqlStorage
	database string
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS bridge_messages (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	message_id CHAR(36) NOT NULL,
	direction VARCHAR(32) NOT NULL,
	channel VARCHAR(64) NOT NULL,
	topic VARCHAR(255) NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME(3) NOT NULL,
	INDEX idx_direction (direction),
	INDEX idx_channel (channel),
	INDEX idx_created_at (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

// NewMySQLStorage 创建一个新的MySQL存储后端
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	log := logger.Named("storage")

	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN: %w", err)
	}

	// 先连接到MySQL服务器（不指定数据库）
	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL server: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", database, err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping MySQL: %w", err)
	}

	storage := &MySQLStorage{
		sqlStorage: sqlStorage{
			db:     db,
			name:   "mysql",
			schema: mysqlSchema,
			insert: `INSERT INTO bridge_messages (message_id, direction, channel, topic, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		},
		database: database,
	}
	storage.configurePool(10)

	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("MySQL storage ready: %s", database)
	return storage, nil
}

// parseMySQLDSN 解析MySQL DSN字符串，提取数据库名和不包含数据库的DSN
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("no database name in DSN")
	}

	// 最后一部分可能包含参数
	dbParts := strings.SplitN(parts[len(parts)-1], "?", 2)
	database = dbParts[0]
	if database == "" {
		return "", "", fmt.Errorf("no database name in DSN")
	}

	serverDSN = strings.Join(parts[:len(parts)-1], "/") + "/"
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}

	return database, serverDSN, nil
}
