package serverdb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User represents a registered user.
type User struct {
	ID         int64
	Email      string
	ScreenName string
	CompanyID  int64
	GroupID    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const userColumns = `id, email, screen_name, company_id, group_id, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.ScreenName, &u.CompanyID, &u.GroupID, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUser inserts a new user with the given email (lowercased). An empty
// screen name defaults to the local part of the email.
func (db *ServerDB) CreateUser(email, screenName string, companyID, groupID int64) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if screenName == "" {
		screenName, _, _ = strings.Cut(email, "@")
	}

	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`INSERT INTO users (email, screen_name, company_id, group_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		email, screenName, companyID, groupID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{ID: id, Email: email, ScreenName: screenName, CompanyID: companyID, GroupID: groupID, CreatedAt: now, UpdatedAt: now}, nil
}

// GetUserByID returns the user with the given ID, or nil if not found.
func (db *ServerDB) GetUserByID(id int64) (*User, error) {
	u, err := scanUser(db.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (db *ServerDB) GetUserByEmail(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(db.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE LOWER(email) = ?`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns all users.
func (db *ServerDB) ListUsers() ([]*User, error) {
	rows, err := db.conn.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: iterate: %w", err)
	}
	return users, nil
}
