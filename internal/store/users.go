package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/stormboard/internal/apperr"
	"github.com/starford/stormboard/internal/models"
)

// CreateUser registers a user. The very first user ever registered is
// auto-approved as admin; everyone after that starts pending. The phone
// is the natural login key: registering an existing phone is an
// idempotent success that returns the stored row unchanged.
func (db *DB) CreateUser(u models.User) (models.User, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return models.User{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if u.Phone != "" {
		existing, err := scanUser(tx.QueryRow(
			`SELECT id, name, phone, status, role FROM users WHERE phone = ?`, u.Phone))
		if err == nil {
			return existing, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("store: lookup phone: %w", err)
		}
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return models.User{}, fmt.Errorf("store: count users: %w", err)
	}

	if count == 0 {
		u.Status = models.UserApproved
		u.Role = models.RoleAdmin
	} else {
		u.Status = models.UserPending
		u.Role = models.RoleUser
	}

	if _, err := tx.Exec(
		`INSERT INTO users (id, name, phone, status, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Phone, string(u.Status), string(u.Role), time.Now().UnixMilli(),
	); err != nil {
		return models.User{}, fmt.Errorf("store: insert user: %w", err)
	}

	return u, tx.Commit()
}

// GetUser returns a user by id.
func (db *DB) GetUser(id string) (*models.User, error) {
	u, err := scanUser(db.conn.QueryRow(
		`SELECT id, name, phone, status, role FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", id, err)
	}
	return &u, nil
}

// UserByPhone returns a user by phone number (login lookup).
func (db *DB) UserByPhone(phone string) (*models.User, error) {
	u, err := scanUser(db.conn.QueryRow(
		`SELECT id, name, phone, status, role FROM users WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user by phone: %w", err)
	}
	return &u, nil
}

// PendingUsers returns users awaiting approval, newest first.
func (db *DB) PendingUsers() ([]models.User, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, phone, status, role FROM users WHERE status = ? ORDER BY created_at DESC`,
		string(models.UserPending))
	if err != nil {
		return nil, fmt.Errorf("store: pending users: %w", err)
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ApproveUser marks a user approved with the given role.
func (db *DB) ApproveUser(id string, role models.UserRole) error {
	if role == "" {
		role = models.RoleUser
	}
	res, err := db.conn.Exec(
		`UPDATE users SET status = ?, role = ? WHERE id = ?`,
		string(models.UserApproved), string(role), id)
	if err != nil {
		return fmt.Errorf("store: approve user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user row.
func (db *DB) DeleteUser(id string) error {
	res, err := db.conn.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func scanUser(r rowScanner) (models.User, error) {
	var u models.User
	var status, role string
	if err := r.Scan(&u.ID, &u.Name, &u.Phone, &status, &role); err != nil {
		return models.User{}, err
	}
	u.Status = models.UserStatus(status)
	u.Role = models.UserRole(role)
	return u, nil
}
