package localstore

import (
	"errors"
	"time"

	"github.com/syncdesk/syncdesk/internal/types"
)

// ErrNotFound is returned for point lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// Credential is a locally cached login credential, used to re-authenticate
// a previously signed-in user while offline.
type Credential struct {
	Email        string
	UserId       string
	PasswordHash string
	UpdatedAt    time.Time
}

// LocalStore is the on-device cache. It is the state the UI observes
// immediately; the remote store remains authoritative when reachable.
// Live queries return a snapshot channel plus a cancel function; the
// channel is closed after cancel.
type LocalStore interface {
	Close() error

	GetUser(id string) (types.User, error)
	GetUserByEmail(email string) (types.User, error)
	PutUser(u types.User) error
	PutUsers(users []types.User) error

	GetCredential(email string) (Credential, error)
	PutCredential(cred Credential) error

	GetProject(id string) (types.Project, error)
	ListProjects() ([]types.Project, error)
	PutProject(p types.Project) error
	DeleteProject(id string) error

	GetMember(projectId, userId string) (types.ProjectMember, error)
	ListMembers(projectId string) ([]types.ProjectMember, error)
	PutMember(m types.ProjectMember) error
	PutMembers(members []types.ProjectMember) error
	DeleteMember(projectId, userId string) error
	MembersLive(projectId string) (<-chan []types.ProjectMember, func())

	GetRoom(id string) (types.ChatRoom, error)
	GetRoomByExternalId(externalId string) (types.ChatRoom, error)
	ListRooms(projectId string) ([]types.ChatRoom, error)
	PutRoom(room types.ChatRoom) error
	DeleteRoom(id string) error
	RoomsLive(projectId string) (<-chan []types.ChatRoom, func())

	GetMessage(id string) (types.Message, error)
	ListMessages(roomId string, before time.Time, beforeId string, limit int) ([]types.Message, error)
	ListUnreadMessages(roomId, userId string) ([]types.Message, error)
	PutMessage(msg types.Message) error
	PutMessages(msgs []types.Message) error
	DeleteMessage(id string) error
	MessagesLive(roomId string) (<-chan []types.Message, func())

	GetTask(id string) (types.Task, error)
	ListTasks(projectId string) ([]types.Task, error)
	ListSubtasks(parentId string) ([]types.Task, error)
	SearchTasks(projectId, query string) ([]types.Task, error)
	PutTask(t types.Task) error
	PutTasks(tasks []types.Task) error
	DeleteTask(id string) error
	TasksLive(projectId string) (<-chan []types.Task, func())

	GetInvite(code string) (types.Invite, error)
	PutInvite(inv types.Invite) error
}
