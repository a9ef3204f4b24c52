package remotestore

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxEventSize   = 4096
	reconnectDelay = 5 * time.Second
)

// WebsocketFeed subscribes to the backend's realtime endpoint and decodes
// change events off the socket.
type WebsocketFeed struct {
	url    string
	token  TokenSource
	log    logrus.FieldLogger
	events chan ChangeEvent
}

func NewWebsocketFeed(url string, token TokenSource, log logrus.FieldLogger) *WebsocketFeed {
	return &WebsocketFeed{
		url:    url,
		token:  token,
		log:    log,
		events: make(chan ChangeEvent, 256),
	}
}

func (f *WebsocketFeed) Events() <-chan ChangeEvent {
	return f.events
}

// Run connects and reads events until ctx is cancelled, redialing after
// transient failures.
func (f *WebsocketFeed) Run(ctx context.Context) error {
	defer close(f.events)

	for {
		if err := f.connectAndRead(ctx); err != nil {
			f.log.Warnf("change feed disconnected: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *WebsocketFeed) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	if f.token != nil {
		if tok := f.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Infof("change feed connected to %s", f.url)

	conn.SetReadLimit(maxEventSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go f.ping(ctx, conn, done)

	for {
		var event ChangeEvent
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}

		select {
		case f.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *WebsocketFeed) ping(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			// Unblock the read loop.
			conn.Close()
			return
		}
	}
}
