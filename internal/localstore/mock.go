package localstore

import (
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/syncdesk/syncdesk/internal/types"
)

type MockLocalStore struct {
	mock.Mock
}

func (m *MockLocalStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLocalStore) GetUser(id string) (types.User, error) {
	args := m.Called(id)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockLocalStore) GetUserByEmail(email string) (types.User, error) {
	args := m.Called(email)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockLocalStore) PutUser(u types.User) error {
	args := m.Called(u)
	return args.Error(0)
}
func (m *MockLocalStore) PutUsers(users []types.User) error {
	args := m.Called(users)
	return args.Error(0)
}

func (m *MockLocalStore) GetCredential(email string) (Credential, error) {
	args := m.Called(email)
	return args.Get(0).(Credential), args.Error(1)
}
func (m *MockLocalStore) PutCredential(cred Credential) error {
	args := m.Called(cred)
	return args.Error(0)
}

func (m *MockLocalStore) GetProject(id string) (types.Project, error) {
	args := m.Called(id)
	return args.Get(0).(types.Project), args.Error(1)
}
func (m *MockLocalStore) ListProjects() ([]types.Project, error) {
	args := m.Called()
	return args.Get(0).([]types.Project), args.Error(1)
}
func (m *MockLocalStore) PutProject(p types.Project) error {
	args := m.Called(p)
	return args.Error(0)
}
func (m *MockLocalStore) DeleteProject(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockLocalStore) GetMember(projectId, userId string) (types.ProjectMember, error) {
	args := m.Called(projectId, userId)
	return args.Get(0).(types.ProjectMember), args.Error(1)
}
func (m *MockLocalStore) ListMembers(projectId string) ([]types.ProjectMember, error) {
	args := m.Called(projectId)
	return args.Get(0).([]types.ProjectMember), args.Error(1)
}
func (m *MockLocalStore) PutMember(member types.ProjectMember) error {
	args := m.Called(member)
	return args.Error(0)
}
func (m *MockLocalStore) PutMembers(members []types.ProjectMember) error {
	args := m.Called(members)
	return args.Error(0)
}
func (m *MockLocalStore) DeleteMember(projectId, userId string) error {
	args := m.Called(projectId, userId)
	return args.Error(0)
}
func (m *MockLocalStore) MembersLive(projectId string) (<-chan []types.ProjectMember, func()) {
	args := m.Called(projectId)
	return args.Get(0).(<-chan []types.ProjectMember), args.Get(1).(func())
}

func (m *MockLocalStore) GetRoom(id string) (types.ChatRoom, error) {
	args := m.Called(id)
	return args.Get(0).(types.ChatRoom), args.Error(1)
}
func (m *MockLocalStore) GetRoomByExternalId(externalId string) (types.ChatRoom, error) {
	args := m.Called(externalId)
	return args.Get(0).(types.ChatRoom), args.Error(1)
}
func (m *MockLocalStore) ListRooms(projectId string) ([]types.ChatRoom, error) {
	args := m.Called(projectId)
	return args.Get(0).([]types.ChatRoom), args.Error(1)
}
func (m *MockLocalStore) PutRoom(room types.ChatRoom) error {
	args := m.Called(room)
	return args.Error(0)
}
func (m *MockLocalStore) DeleteRoom(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockLocalStore) RoomsLive(projectId string) (<-chan []types.ChatRoom, func()) {
	args := m.Called(projectId)
	return args.Get(0).(<-chan []types.ChatRoom), args.Get(1).(func())
}

func (m *MockLocalStore) GetMessage(id string) (types.Message, error) {
	args := m.Called(id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockLocalStore) ListMessages(roomId string, before time.Time, beforeId string, limit int) ([]types.Message, error) {
	args := m.Called(roomId, before, beforeId, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockLocalStore) ListUnreadMessages(roomId, userId string) ([]types.Message, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockLocalStore) PutMessage(msg types.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockLocalStore) PutMessages(msgs []types.Message) error {
	args := m.Called(msgs)
	return args.Error(0)
}
func (m *MockLocalStore) DeleteMessage(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockLocalStore) MessagesLive(roomId string) (<-chan []types.Message, func()) {
	args := m.Called(roomId)
	return args.Get(0).(<-chan []types.Message), args.Get(1).(func())
}

func (m *MockLocalStore) GetTask(id string) (types.Task, error) {
	args := m.Called(id)
	return args.Get(0).(types.Task), args.Error(1)
}
func (m *MockLocalStore) ListTasks(projectId string) ([]types.Task, error) {
	args := m.Called(projectId)
	return args.Get(0).([]types.Task), args.Error(1)
}
func (m *MockLocalStore) ListSubtasks(parentId string) ([]types.Task, error) {
	args := m.Called(parentId)
	return args.Get(0).([]types.Task), args.Error(1)
}
func (m *MockLocalStore) SearchTasks(projectId, query string) ([]types.Task, error) {
	args := m.Called(projectId, query)
	return args.Get(0).([]types.Task), args.Error(1)
}
func (m *MockLocalStore) PutTask(t types.Task) error {
	args := m.Called(t)
	return args.Error(0)
}
func (m *MockLocalStore) PutTasks(tasks []types.Task) error {
	args := m.Called(tasks)
	return args.Error(0)
}
func (m *MockLocalStore) DeleteTask(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockLocalStore) TasksLive(projectId string) (<-chan []types.Task, func()) {
	args := m.Called(projectId)
	return args.Get(0).(<-chan []types.Task), args.Get(1).(func())
}

func (m *MockLocalStore) GetInvite(code string) (types.Invite, error) {
	args := m.Called(code)
	return args.Get(0).(types.Invite), args.Error(1)
}
func (m *MockLocalStore) PutInvite(inv types.Invite) error {
	args := m.Called(inv)
	return args.Error(0)
}
