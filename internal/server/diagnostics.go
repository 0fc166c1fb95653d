package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

const watcherWriteWait = 10 * time.Second

// roomEvent is one entry of the live diagnostics feed.
type roomEvent struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Phase   string `json:"phase,omitempty"`
	Players int    `json:"players,omitempty"`
	Time    int64  `json:"time"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watcherSet fans room events out to websocket observers. Observers are
// harness tooling watching a run; a dead observer is dropped on the first
// failed write.
type watcherSet struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	conns map[*watcher]struct{}
}

type watcher struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWatcherSet(log *zap.SugaredLogger) *watcherSet {
	return &watcherSet{log: log, conns: make(map[*watcher]struct{})}
}

func (ws *watcherSet) add(conn *websocket.Conn) *watcher {
	w := &watcher{conn: conn}
	ws.mu.Lock()
	ws.conns[w] = struct{}{}
	ws.mu.Unlock()
	return w
}

func (ws *watcherSet) remove(w *watcher) {
	ws.mu.Lock()
	delete(ws.conns, w)
	ws.mu.Unlock()
	w.conn.Close()
}

// run drains the event channel until the hub signals shutdown.
func (ws *watcherSet) run(events <-chan roomEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			ws.mu.Lock()
			for w := range ws.conns {
				w.conn.Close()
				delete(ws.conns, w)
			}
			ws.mu.Unlock()
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				ws.log.Errorw("marshal room event", "err", err)
				continue
			}
			ws.broadcast(data)
		}
	}
}

func (ws *watcherSet) broadcast(data []byte) {
	ws.mu.Lock()
	targets := make([]*watcher, 0, len(ws.conns))
	for w := range ws.conns {
		targets = append(targets, w)
	}
	ws.mu.Unlock()

	for _, w := range targets {
		w.mu.Lock()
		w.conn.SetWriteDeadline(time.Now().Add(watcherWriteWait))
		err := w.conn.WriteMessage(websocket.TextMessage, data)
		w.mu.Unlock()
		if err != nil {
			ws.log.Debugw("dropping diagnostics watcher", "err", err)
			ws.remove(w)
		}
	}
}

// Handler serves the diagnostics sidecar: /healthz, /diagnostics, and the
// /ws/rooms live event feed.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			Status     string             `json:"status"`
			ServerTime int64              `json:"serverTime"`
			Rooms      []diagnosticsRoom  `json:"rooms"`
			Counters   telemetry.Snapshot `json:"counters"`
			TickRateHz int                `json:"tickRateHz"`
			Heartbeat  int64              `json:"heartbeatMillis"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Rooms:      h.diagnosticsRooms(),
			Counters:   h.counters.Read(),
			TickRateHz: h.cfg.BroadcastHz,
			Heartbeat:  h.cfg.HeartbeatInterval.Milliseconds(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/ws/rooms", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warnw("diagnostics upgrade failed", "err", err)
			return
		}
		watcher := h.watchers.add(conn)
		// Reader loop only notices the close; watchers never send.
		go func() {
			defer h.watchers.remove(watcher)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	return mux
}

type diagnosticsRoom struct {
	Room     string `json:"room"`
	Phase    string `json:"phase"`
	Players  int    `json:"players"`
	Capacity int    `json:"capacity"`
}

func (h *Hub) diagnosticsRooms() []diagnosticsRoom {
	infos := h.ListRooms()
	out := make([]diagnosticsRoom, 0, len(infos))
	for _, info := range infos {
		out = append(out, diagnosticsRoom{
			Room:     info.RoomID,
			Phase:    info.Phase.String(),
			Players:  int(info.Players),
			Capacity: int(info.Capacity),
		})
	}
	return out
}
