// Package gateway streams job progress to websocket clients.
//
// Every published event belongs to a job (a run ID) and carries a per-job
// sequence number. The last events of each job are kept in a ReplayBuffer
// so a client that connects after a sweep started still sees it from the
// beginning, or from the sequence number it last saw.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/optimizer"
)

const (
	defaultReplaySize = 500
	defaultMaxJobs    = 64
	sendBuffer        = 256
)

// Event types.
const (
	EventProgress = "progress"
	EventFold     = "fold"
	EventDone     = "done"
	EventError    = "error"
)

// Envelope is the wire format of every websocket message.
type Envelope struct {
	Type string          `json:"type"`
	Job  string          `json:"job"`
	Seq  int64           `json:"seq"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// HubConfig configures a Hub.
type HubConfig struct {
	ReplaySize       int       // envelopes kept per job, default 500
	MaxJobs          int       // jobs kept for replay, default 64
	OnClientsChanged func(int) // optional, e.g. a gauge setter
}

type jobStream struct {
	seq    int64
	replay *ReplayBuffer
}

// Hub fans out job events to connected clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	jobs    map[string]*jobStream
	order   []string // job IDs, oldest first

	replaySize int
	maxJobs    int
	onClients  func(int)
	upgrader   websocket.Upgrader
	now        func() time.Time
	log        zerolog.Logger
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = defaultReplaySize
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = defaultMaxJobs
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		jobs:       make(map[string]*jobStream),
		replaySize: cfg.ReplaySize,
		maxJobs:    cfg.MaxJobs,
		onClients:  cfg.OnClientsChanged,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
		log: log.With().Str("component", "gateway").Logger(),
	}
}

// Publish encodes data as an event of job and sends it to every client
// watching that job.
func (h *Hub) Publish(job, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("gateway encode %s event for %s: %w", eventType, job, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	stream := h.stream(job)
	stream.seq++
	msg, err := json.Marshal(Envelope{Type: eventType, Job: job, Seq: stream.seq, TS: h.now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("gateway encode envelope: %w", err)
	}
	stream.replay.Push(stream.seq, msg)

	for c := range h.clients {
		if c.job != "" && c.job != job {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Str("job", job).Msg("client send buffer full, dropping event")
		}
	}
	return nil
}

// ProgressFunc adapts the hub to optimizer.WithProgress for job.
func (h *Hub) ProgressFunc(job string) func(optimizer.Progress) {
	return func(p optimizer.Progress) {
		if err := h.Publish(job, EventProgress, p); err != nil {
			h.log.Error().Err(err).Str("job", job).Msg("publish progress")
		}
	}
}

// stream returns the stream of job, creating it and evicting the oldest
// job past maxJobs. Called with h.mu held.
func (h *Hub) stream(job string) *jobStream {
	if s, ok := h.jobs[job]; ok {
		return s
	}
	s := &jobStream{replay: NewReplayBuffer(h.replaySize)}
	h.jobs[job] = s
	h.order = append(h.order, job)
	if len(h.order) > h.maxJobs {
		delete(h.jobs, h.order[0])
		h.order = h.order[1:]
	}
	return s
}

// ServeHTTP upgrades the request to a websocket. The optional query
// parameters job and since select a single job and the last sequence
// number the client has seen.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = v
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.register(conn, job, since)
}

// register adds the client and queues its replay under the hub lock so no
// event is missed or delivered twice.
func (h *Hub) register(conn *websocket.Conn, job string, since int64) {
	c := &Client{conn: conn, hub: h, job: job}

	h.mu.Lock()
	var backlog []replayEntry
	if job != "" {
		if s, ok := h.jobs[job]; ok {
			backlog = s.replay.After(since)
		}
	} else {
		for _, id := range h.order {
			backlog = append(backlog, h.jobs[id].replay.After(0)...)
		}
	}
	c.send = make(chan []byte, sendBuffer+len(backlog))
	for _, e := range backlog {
		c.send <- e.Data
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.clientsChanged(count)
	h.log.Info().Str("job", job).Int("replayed", len(backlog)).Int("clients", count).Msg("ws client connected")

	go c.writePump()
	go c.readPump()
}

// RemoveClient unregisters c and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.clientsChanged(count)
	h.log.Info().Int("clients", count).Msg("ws client disconnected")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// JobSeq returns the last sequence number published for job.
func (h *Hub) JobSeq(job string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.jobs[job]; ok {
		return s.seq
	}
	return 0
}

func (h *Hub) clientsChanged(n int) {
	if h.onClients != nil {
		h.onClients(n)
	}
}
