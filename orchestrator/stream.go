package orchestrator

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events streams step events over a websocket, starting after the
// optional cursor query parameter.
func (o *Orchestrator) Events(w http.ResponseWriter, r *http.Request) {
	l := o.l.With("handler", "Events")

	var cursor int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	l.Debug("upgraded http to wss", "cursor", cursor)

	ch := o.n.Subscribe()
	defer o.n.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				l.Debug("stopped reading", "err", err)
				cancel()
				return
			}
		}
	}()

	// complete backfill first before going to live data
	if err := o.streamEvents(ctx, conn, &cursor); err != nil {
		l.Error("failed to backfill", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			l.Debug("stopping stream: client closed connection")
			return
		case <-ch:
			if err := o.streamEvents(ctx, conn, &cursor); err != nil {
				l.Error("failed to stream", "err", err)
				return
			}
		case <-time.After(30 * time.Second):
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write control", "err", err)
			}
		}
	}
}

// streamEvents writes every event after cursor, page by page, advancing
// cursor as it goes.
func (o *Orchestrator) streamEvents(ctx context.Context, conn *websocket.Conn, cursor *int64) error {
	for {
		evts, err := o.db.GetEvents(ctx, *cursor)
		if err != nil {
			return err
		}
		if len(evts) == 0 {
			return nil
		}

		for _, ev := range evts {
			if err := conn.WriteJSON(ev); err != nil {
				return err
			}
			*cursor = ev.Id
		}
	}
}
