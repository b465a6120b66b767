package userdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username       TEXT PRIMARY KEY,
	password       TEXT NOT NULL,
	default_status INTEGER NOT NULL DEFAULT 0
);
`

// SQLite is the file-backed account directory.
type SQLite struct {
	logger *logrus.Logger
	db     *sql.DB
}

// OpenSQLite opens (creating if needed) the account database at path and
// ensures the schema exists.
func OpenSQLite(logger *logrus.Logger, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open user database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure user schema: %w", err)
	}
	logger.WithField("path", path).Info("User database opened")
	return &SQLite{logger: logger, db: db}, nil
}

// GetUser implements Directory.
func (s *SQLite) GetUser(username string) (User, error) {
	var u User
	err := s.db.QueryRow(
		"SELECT username, password, default_status FROM users WHERE username = ?",
		username,
	).Scan(&u.Username, &u.Password, &u.DefaultStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user %q: %w", username, err)
	}
	return u, nil
}

// AddUser provisions or replaces an account.
func (s *SQLite) AddUser(u User) error {
	_, err := s.db.Exec(
		"INSERT INTO users (username, password, default_status) VALUES (?, ?, ?) "+
			"ON CONFLICT(username) DO UPDATE SET password = excluded.password, default_status = excluded.default_status",
		u.Username, u.Password, u.DefaultStatus,
	)
	if err != nil {
		return fmt.Errorf("add user %q: %w", u.Username, err)
	}
	return nil
}

// DeleteUser removes an account. Deleting an absent user is not an error.
func (s *SQLite) DeleteUser(username string) error {
	_, err := s.db.Exec("DELETE FROM users WHERE username = ?", username)
	return err
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
