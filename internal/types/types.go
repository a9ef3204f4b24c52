package types

import (
	"time"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectArchived  ProjectStatus = "archived"
	ProjectCompleted ProjectStatus = "completed"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageVoice MessageType = "voice"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known workflow state.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskCancelled:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

type User struct {
	Id          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	Links       []string  `json:"links,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Project struct {
	Id        string        `json:"id"`
	Name      string        `json:"name"`
	OwnerId   string        `json:"owner_id"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitempty"`
}

type ProjectMember struct {
	ProjectId string    `json:"project_id"`
	UserId    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Role      Role      `json:"role"`
	InviterId string    `json:"inviter_id,omitempty"`
	JoinedAt  time.Time `json:"joined_at,omitempty"`
}

type ChatRoom struct {
	Id            string    `json:"id"`
	ExternalId    string    `json:"external_id"`
	ProjectId     string    `json:"project_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Participants  []string  `json:"participants"`
	CreatedBy     string    `json:"created_by"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	Pinned        bool      `json:"pinned"`
	Archived      bool      `json:"archived"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id         string      `json:"id"`
	RoomId     string      `json:"room_id"`
	SenderId   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	Edited     bool        `json:"edited"`
	EditedAt   time.Time   `json:"edited_at,omitempty"`
	// Reactions maps user id to emoji, at most one per user.
	Reactions map[string]string `json:"reactions,omitempty"`
	ReadBy    []string          `json:"read_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HasRead reports whether the user id is in the message's read set.
func (m *Message) HasRead(userId string) bool {
	for _, id := range m.ReadBy {
		if id == userId {
			return true
		}
	}
	return false
}

type TaskComment struct {
	Id        string    `json:"id"`
	AuthorId  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	Id             string        `json:"id"`
	ProjectId      string        `json:"project_id"`
	RoomId         string        `json:"room_id,omitempty"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Status         TaskStatus    `json:"status"`
	Priority       TaskPriority  `json:"priority"`
	AssigneeId     string        `json:"assignee_id,omitempty"`
	AssigneeName   string        `json:"assignee_name,omitempty"`
	DueDate        time.Time     `json:"due_date,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	EstimatedHours float64       `json:"estimated_hours,omitempty"`
	ActualHours    float64       `json:"actual_hours,omitempty"`
	Comments       []TaskComment `json:"comments,omitempty"`
	ParentTaskId   string        `json:"parent_task_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at,omitempty"`
}

type Invite struct {
	Code      string    `json:"code"`
	ProjectId string    `json:"project_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Session identifies the signed-in user for a repository call. It is
// passed explicitly rather than held as process-wide state.
type Session struct {
	UserId      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}
