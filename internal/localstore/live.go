package localstore

import (
	"sync"

	"github.com/syncdesk/syncdesk/internal/types"
)

// Live query topics. Writes notify the topic they touch; each live query
// re-runs its snapshot query when its topic fires.
const (
	topicMembers  = "members:"
	topicRooms    = "rooms:"
	topicMessages = "messages:"
	topicTasks    = "tasks:"
)

type notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func (n *notifier) init() {
	n.subs = make(map[string]map[chan struct{}]struct{})
}

func (n *notifier) subscribe(topic string) (chan struct{}, func()) {
	signal := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[chan struct{}]struct{})
	}
	n.subs[topic][signal] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if set, ok := n.subs[topic]; ok {
			if _, subscribed := set[signal]; subscribed {
				delete(set, signal)
				close(signal)
			}
			if len(set) == 0 {
				delete(n.subs, topic)
			}
		}
		n.mu.Unlock()
	}

	return signal, cancel
}

func (n *notifier) notify(topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for signal := range n.subs[topic] {
		select {
		case signal <- struct{}{}:
		default:
			// A pending signal already covers this change.
		}
	}
}

// liveQuery runs query immediately and again on every topic notification,
// sending each snapshot on the returned channel. Slow consumers only ever
// see the most recent snapshot. The channel is closed after cancel.
func liveQuery[T any](s *Store, topic string, query func() ([]T, error)) (<-chan []T, func()) {
	signal, unsubscribe := s.subscribe(topic)
	out := make(chan []T, 1)

	emit := func() {
		snap, err := query()
		if err != nil {
			return
		}
		select {
		case out <- snap:
		default:
			select {
			case <-out:
			default:
			}
			out <- snap
		}
	}

	go func() {
		defer close(out)
		emit()
		for range signal {
			emit()
		}
	}()

	return out, unsubscribe
}

func (s *Store) MembersLive(projectId string) (<-chan []types.ProjectMember, func()) {
	return liveQuery(s, topicMembers+projectId, func() ([]types.ProjectMember, error) {
		return s.ListMembers(projectId)
	})
}

func (s *Store) RoomsLive(projectId string) (<-chan []types.ChatRoom, func()) {
	return liveQuery(s, topicRooms+projectId, func() ([]types.ChatRoom, error) {
		return s.ListRooms(projectId)
	})
}

func (s *Store) MessagesLive(roomId string) (<-chan []types.Message, func()) {
	return liveQuery(s, topicMessages+roomId, func() ([]types.Message, error) {
		return s.ListMessages(roomId, zeroTime, "", defaultMessagePage)
	})
}

func (s *Store) TasksLive(projectId string) (<-chan []types.Task, func()) {
	return liveQuery(s, topicTasks+projectId, func() ([]types.Task, error) {
		return s.ListTasks(projectId)
	})
}
