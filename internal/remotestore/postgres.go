package remotestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const sessionTokenExp = 24 * time.Hour

// PgRemoteStore talks directly to a self-hosted postgres backend. Rows are
// mapped to columns via their JSON field names; nested values (reactions,
// read sets, tags) are stored as JSON text.
type PgRemoteStore struct {
	conn       *sql.DB
	signingKey []byte
	log        logrus.FieldLogger
}

func NewPgRemoteStore(dsn string, signingKey []byte, log logrus.FieldLogger) (*PgRemoteStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRemoteStore{conn: db, signingKey: signingKey, log: log}, nil
}

func (p *PgRemoteStore) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// keyColumn returns the primary key column for a table.
func keyColumn(table string) string {
	if table == TableInvites {
		return "code"
	}
	return "id"
}

// rowToMap flattens a row value into column/value pairs via its JSON
// encoding. Nested objects and arrays are kept as JSON text.
func rowToMap(row any) (map[string]any, error) {
	buf, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}

	for k, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			nested, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", k, err)
			}
			m[k] = string(nested)
		}
	}
	return m, nil
}

func sortedColumns(m map[string]any) []string {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// scanRows reads every result row into maps keyed by column name.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// decodeInto re-encodes scanned rows as JSON and decodes them into dest,
// expanding JSON text columns back into their nested values.
func decodeInto(rows []map[string]any, single bool, dest any) error {
	for _, row := range rows {
		for k, v := range row {
			s, ok := v.(string)
			if !ok || len(s) == 0 {
				continue
			}
			if s[0] == '{' || s[0] == '[' {
				var nested any
				if err := json.Unmarshal([]byte(s), &nested); err == nil {
					row[k] = nested
				}
			}
		}
	}

	var payload any = rows
	if single {
		if len(rows) == 0 {
			return ErrNotFound
		}
		payload = rows[0]
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(buf, dest); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (p *PgRemoteStore) insertOne(ctx context.Context, table string, row any, dest any) error {
	m, err := rowToMap(row)
	if err != nil {
		return err
	}

	cols := sortedColumns(m)
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	args := make([]any, len(cols))
	key := keyColumn(table)

	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = m[col]
		if col != key {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		key, strings.Join(updates, ", "),
	)

	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	scanned, err := scanRows(rows)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return decodeInto(scanned, true, dest)
}

func (p *PgRemoteStore) Insert(ctx context.Context, table string, row any, dest any) error {
	if err := p.insertOne(ctx, table, row, dest); err != nil {
		return remoteErr("insert", table, err)
	}
	return nil
}

func (p *PgRemoteStore) InsertBatch(ctx context.Context, table string, rows any) error {
	buf, err := json.Marshal(rows)
	if err != nil {
		return remoteErr("insert_batch", table, fmt.Errorf("encode rows: %w", err))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(buf, &items); err != nil {
		return remoteErr("insert_batch", table, fmt.Errorf("decode rows: %w", err))
	}

	for _, item := range items {
		if err := p.insertOne(ctx, table, item, nil); err != nil {
			return remoteErr("insert_batch", table, err)
		}
	}
	return nil
}

func (p *PgRemoteStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	m, err := rowToMap(fields)
	if err != nil {
		return remoteErr("update", table, err)
	}

	cols := sortedColumns(m)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	args = append(args, id)
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
		args = append(args, m[col])
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1", table, strings.Join(sets, ", "), keyColumn(table))
	if _, err := p.conn.ExecContext(ctx, query, args...); err != nil {
		return remoteErr("update", table, err)
	}
	return nil
}

func (p *PgRemoteStore) Delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, keyColumn(table))
	if _, err := p.conn.ExecContext(ctx, query, id); err != nil {
		return remoteErr("delete", table, err)
	}
	return nil
}

func (p *PgRemoteStore) SelectOne(ctx context.Context, table, id string, dest any) error {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", table, keyColumn(table))
	rows, err := p.conn.QueryContext(ctx, query, id)
	if err != nil {
		return remoteErr("select_one", table, err)
	}
	defer rows.Close()

	scanned, err := scanRows(rows)
	if err != nil {
		return remoteErr("select_one", table, err)
	}
	if err := decodeInto(scanned, true, dest); err != nil {
		return remoteErr("select_one", table, err)
	}
	return nil
}

func (p *PgRemoteStore) SelectMany(ctx context.Context, table string, q Query, dest any) error {
	var where []string
	var args []any

	for _, col := range sortedColumns(q.Filter) {
		args = append(args, q.Filter[col])
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if q.Cursor != "" && q.OrderBy != "" {
		op := ">"
		if q.Desc {
			op = "<"
		}
		args = append(args, q.Cursor)
		where = append(where, fmt.Sprintf("%s %s $%d", q.OrderBy, op, len(args)))
	}

	query := "SELECT * FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s, %s %s", q.OrderBy, dir, keyColumn(table), dir)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return remoteErr("select_many", table, err)
	}
	defer rows.Close()

	scanned, err := scanRows(rows)
	if err != nil {
		return remoteErr("select_many", table, err)
	}
	if err := decodeInto(scanned, false, dest); err != nil {
		return remoteErr("select_many", table, err)
	}
	return nil
}

// SignIn verifies the password against the backend's users table and mints
// a session token signed with the deployment's shared key.
func (p *PgRemoteStore) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	row := p.conn.QueryRowContext(ctx,
		"SELECT id, email, display_name, password_hash FROM users WHERE email = $1 LIMIT 1",
		email,
	)

	var id, userEmail, displayName, passwordHash string
	err := row.Scan(&id, &userEmail, &displayName, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return AuthResult{}, remoteErr("sign_in", TableUsers, fmt.Errorf("unknown email: %w", ErrBadCredentials))
	}
	if err != nil {
		return AuthResult{}, remoteErr("sign_in", TableUsers, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return AuthResult{}, remoteErr("sign_in", TableUsers, ErrBadCredentials)
	}

	exp := time.Now().Add(sessionTokenExp)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   id,
		"email": userEmail,
		"name":  displayName,
		"exp":   exp.Unix(),
	})

	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return AuthResult{}, remoteErr("sign_in", TableUsers, fmt.Errorf("sign token: %w", err))
	}

	var auth AuthResult
	if err := p.SelectOne(ctx, TableUsers, id, &auth.User); err != nil {
		return AuthResult{}, err
	}
	auth.AccessToken = signed
	auth.ExpiresAt = exp
	return auth, nil
}
