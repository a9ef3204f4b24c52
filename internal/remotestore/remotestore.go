package remotestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncdesk/syncdesk/internal/types"
)

// Table names understood by both drivers.
const (
	TableUsers    = "users"
	TableProjects = "projects"
	TableMembers  = "members"
	TableRooms    = "rooms"
	TableMessages = "messages"
	TableTasks    = "tasks"
	TableInvites  = "invites"
)

// ErrNotFound reports a missing row for point lookups.
var ErrNotFound = errors.New("row not found")

// ErrBadCredentials reports a sign-in the backend actively rejected, as
// opposed to one that failed because the backend was unreachable.
var ErrBadCredentials = errors.New("invalid credentials")

// RemoteError tags every remote failure with the operation and table it
// came from, so callers can apply the best-effort propagation policy
// uniformly without inspecting driver internals.
type RemoteError struct {
	Op     string
	Table  string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s %s: status %d: %s", e.Op, e.Table, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %s", e.Op, e.Table, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Table: table, Err: err}
}

// Query narrows a SelectMany call. Filter keys are column names matched by
// equality. Cursor, when set, bounds the OrderBy column: strictly below it
// for descending order, strictly above for ascending.
type Query struct {
	Filter  map[string]any
	OrderBy string
	Desc    bool
	Limit   int
	Cursor  string
}

// AuthResult is a successful remote sign-in.
type AuthResult struct {
	User        types.User `json:"user"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// RemoteStore is the authoritative backend. It may be unreachable at any
// time; every call returns a tagged *RemoteError on failure and never
// panics. Insert decodes the canonical row returned by the backend into
// dest when dest is non-nil, so the caller can reconcile server-assigned
// fields.
type RemoteStore interface {
	Insert(ctx context.Context, table string, row any, dest any) error
	InsertBatch(ctx context.Context, table string, rows any) error
	Update(ctx context.Context, table, id string, fields map[string]any) error
	Delete(ctx context.Context, table, id string) error
	SelectOne(ctx context.Context, table, id string, dest any) error
	SelectMany(ctx context.Context, table string, q Query, dest any) error
	SignIn(ctx context.Context, email, password string) (AuthResult, error)
	Close() error
}
