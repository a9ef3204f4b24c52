package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syncdesk/syncdesk/internal/types"
)

const userColumns = "id, email, display_name, bio, links, online, last_seen, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (types.User, error) {
	var u types.User
	var links, lastSeen, createdAt, updatedAt string
	var online int

	err := row.Scan(&u.Id, &u.Email, &u.DisplayName, &u.Bio, &links, &online, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return types.User{}, err
	}

	fromJSON(links, &u.Links)
	u.Online = online == 1
	u.LastSeen = parseTime(lastSeen)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

func (s *Store) GetUser(id string) (types.User, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (s *Store) GetUserByEmail(email string) (types.User, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, err
}

func (s *Store) PutUser(u types.User) error {
	online := 0
	if u.Online {
		online = 1
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		u.Id, u.Email, u.DisplayName, u.Bio, toJSON(u.Links), online,
		fmtTime(u.LastSeen), fmtTime(u.CreatedAt), fmtTime(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *Store) PutUsers(users []types.User) error {
	for _, u := range users {
		if err := s.PutUser(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetCredential(email string) (Credential, error) {
	row := s.db.QueryRow(
		"SELECT email, user_id, password_hash, updated_at FROM credentials WHERE email = ? LIMIT 1",
		email,
	)

	var c Credential
	var updatedAt string
	err := row.Scan(&c.Email, &c.UserId, &c.PasswordHash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, fmt.Errorf("credential %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return Credential{}, err
	}

	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (s *Store) PutCredential(cred Credential) error {
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO credentials (email, user_id, password_hash, updated_at) VALUES (?, ?, ?, ?)",
		cred.Email, cred.UserId, cred.PasswordHash, fmtTime(cred.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}
