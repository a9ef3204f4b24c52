package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/stats"
	"github.com/syncdesk/syncdesk/internal/types"
)

// Watcher applies remote change notifications to the local cache so other
// participants' writes become visible without polling. Events carry only
// the changed row's identity; the row itself is refetched.
type Watcher struct {
	log    logrus.FieldLogger
	local  localstore.LocalStore
	remote remotestore.RemoteStore
	feed   remotestore.ChangeFeed
	stats  stats.Provider
}

func NewWatcher(log logrus.FieldLogger, local localstore.LocalStore, remote remotestore.RemoteStore, feed remotestore.ChangeFeed, st stats.Provider) *Watcher {
	return &Watcher{
		log:    log,
		local:  local,
		remote: remote,
		feed:   feed,
		stats:  st,
	}
}

// Run consumes the change feed until ctx is cancelled. The feed's own Run
// must be started separately.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.feed.Events():
			if !ok {
				return
			}
			w.stats.Incr(stats.FeedEvents)
			if err := w.apply(ctx, ev); err != nil {
				w.log.Warnf("apply %s %s/%s: %v", ev.Op, ev.Table, ev.Id, err)
			}
		}
	}
}

func (w *Watcher) apply(ctx context.Context, ev remotestore.ChangeEvent) error {
	if ev.Op == remotestore.OpDelete {
		return w.applyDelete(ev)
	}
	return w.applyUpsert(ctx, ev)
}

func (w *Watcher) applyUpsert(ctx context.Context, ev remotestore.ChangeEvent) error {
	switch ev.Table {
	case remotestore.TableUsers:
		var user types.User
		if err := w.fetch(ctx, ev, &user); err != nil {
			return err
		}
		return w.local.PutUser(user)
	case remotestore.TableProjects:
		var project types.Project
		if err := w.fetch(ctx, ev, &project); err != nil {
			return err
		}
		return w.local.PutProject(project)
	case remotestore.TableMembers:
		var row memberRow
		if err := w.fetch(ctx, ev, &row); err != nil {
			return err
		}
		return w.local.PutMember(row.ProjectMember)
	case remotestore.TableRooms:
		var room types.ChatRoom
		if err := w.fetch(ctx, ev, &room); err != nil {
			return err
		}
		return w.local.PutRoom(room)
	case remotestore.TableMessages:
		var msg types.Message
		if err := w.fetch(ctx, ev, &msg); err != nil {
			return err
		}
		return w.local.PutMessage(msg)
	case remotestore.TableTasks:
		var task types.Task
		if err := w.fetch(ctx, ev, &task); err != nil {
			return err
		}
		return w.local.PutTask(task)
	case remotestore.TableInvites:
		var inv types.Invite
		if err := w.fetch(ctx, ev, &inv); err != nil {
			return err
		}
		return w.local.PutInvite(inv)
	default:
		w.log.Debugf("ignoring change for unknown table %q", ev.Table)
		return nil
	}
}

// fetch refetches the changed row. A row already gone remotely is treated
// as a delete that raced the notification.
func (w *Watcher) fetch(ctx context.Context, ev remotestore.ChangeEvent, dest any) error {
	err := w.remote.SelectOne(ctx, ev.Table, ev.Id, dest)
	if errors.Is(err, remotestore.ErrNotFound) {
		return w.applyDelete(ev)
	}
	return err
}

func (w *Watcher) applyDelete(ev remotestore.ChangeEvent) error {
	switch ev.Table {
	case remotestore.TableProjects:
		return w.local.DeleteProject(ev.Id)
	case remotestore.TableMembers:
		projectId, userId, ok := strings.Cut(ev.Id, "/")
		if !ok {
			return nil
		}
		return w.local.DeleteMember(projectId, userId)
	case remotestore.TableRooms:
		return w.local.DeleteRoom(ev.Id)
	case remotestore.TableMessages:
		return w.local.DeleteMessage(ev.Id)
	case remotestore.TableTasks:
		return w.local.DeleteTask(ev.Id)
	default:
		// Users and invites are never removed from the cache by the feed.
		return nil
	}
}
