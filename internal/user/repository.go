package user

import (
	"context"
	"database/sql"
	"errors"

	"go-chat-hub/internal/db"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already taken")
)

type Repository struct {
	db   *sql.DB
	like string
}

func NewRepository(database *db.Database) *Repository {
	like := "ILIKE"
	if database.Driver == db.DriverSQLite {
		// sqlite LIKE is already case-insensitive for ASCII
		like = "LIKE"
	}
	return &Repository{db: database.Conn, like: like}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := "INSERT INTO users (id, username, password, online) VALUES ($1, $2, $3, $4) ON CONFLICT (username) DO NOTHING"

	res, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Password, user.Online)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrUserExists
	}

	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := "SELECT id, username, password, online FROM users WHERE username = $1"
	return r.getUser(ctx, query, username)
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := "SELECT id, username, password, online FROM users WHERE id = $1"
	return r.getUser(ctx, query, id)
}

func (r *Repository) getUser(ctx context.Context, query string, arg string) (*User, error) {
	u := &User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Password, &u.Online)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return u, nil
}

// ListUsers returns every user with its cached online flag, in registration order.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	q := `SELECT id, username, online FROM users ORDER BY created_at, username`
	return r.queryUsers(ctx, q)
}

func (r *Repository) SetOnline(ctx context.Context, id string, online bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE users SET online = $1 WHERE id = $2", online, id)
	return err
}

// SetAllOffline clears every online flag; used at startup before any connection exists.
func (r *Repository) SetAllOffline(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "UPDATE users SET online = $1 WHERE online = $2", false, true)
	return err
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, online FROM users WHERE username ` + r.like + ` $1 ORDER BY username LIMIT 10`
	return r.queryUsers(ctx, q, "%"+query+"%")
}

func (r *Repository) queryUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Online); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
