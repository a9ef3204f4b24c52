package remotestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const changeChannel = "syncdesk_changes"

// PgChangeFeed listens on a postgres NOTIFY channel for change events
// emitted by backend triggers. Payloads are JSON-encoded ChangeEvents.
type PgChangeFeed struct {
	dsn    string
	log    logrus.FieldLogger
	events chan ChangeEvent
}

func NewPgChangeFeed(dsn string, log logrus.FieldLogger) *PgChangeFeed {
	return &PgChangeFeed{
		dsn:    dsn,
		log:    log,
		events: make(chan ChangeEvent, 256),
	}
}

func (f *PgChangeFeed) Events() <-chan ChangeEvent {
	return f.events
}

func (f *PgChangeFeed) Run(ctx context.Context) error {
	defer close(f.events)

	listener := pq.NewListener(f.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.log.Warnf("change feed listener: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(changeChannel); err != nil {
		return err
	}

	f.log.Infof("change feed listening on channel %q", changeChannel)

	for {
		select {
		case n := <-listener.Notify:
			if n == nil {
				// Connection was re-established; pending changes must be
				// re-fetched by the next sync, nothing to decode here.
				continue
			}

			var event ChangeEvent
			if err := json.Unmarshal([]byte(n.Extra), &event); err != nil {
				f.log.Warnf("change feed: bad payload %q: %v", n.Extra, err)
				continue
			}

			select {
			case f.events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
