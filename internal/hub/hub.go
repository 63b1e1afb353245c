// Package hub implements the process-wide connection registry: a fast,
// concurrent-safe index from connection id to send handle, plus a
// secondary index for room/lobby-list broadcast fan-out.
//
// The registry is process-wide and keyed by an opaque connection id
// rather than per-lobby and keyed by user, because a connection here may
// be a spectator with no UserID, or a lobby-list subscriber with no
// LobbyID at all.
package hub

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context is what a connection is currently attached to: either a room
// (lobby_id) or a filtered lobby-list view (status_filter, "" = all).
type Context struct {
	Room         uuid.UUID // uuid.Nil when this is a lobby-list connection
	IsLobbyList  bool
	StatusFilter string
}

func RoomContext(lobbyID uuid.UUID) Context {
	return Context{Room: lobbyID}
}

func LobbyListContext(statusFilter string) Context {
	return Context{IsLobbyList: true, StatusFilter: statusFilter}
}

func (c Context) key() string {
	if c.IsLobbyList {
		return "list:" + c.StatusFilter
	}
	return "room:" + c.Room.String()
}

// Conn is one live socket's registration. OutChan is written to by
// Hub.Send/Broadcast* and drained by the connection's own writer
// goroutine; Write never blocks the caller.
type Conn struct {
	ID      uuid.UUID
	UserID  uuid.UUID // uuid.Nil for anonymous/spectator connections
	Context Context
	OutChan chan []byte
}

// Write pushes a message onto the connection's outbound queue without
// blocking. A full or closed queue drops the message and logs a warning.
func (c *Conn) Write(logger *logrus.Logger, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("hub: write to closed connection %s recovered: %v", c.ID, r)
		}
	}()
	select {
	case c.OutChan <- msg:
	default:
		logger.Warnf("hub: outbound queue full for connection %s, dropping message", c.ID)
	}
}

// Hub is the process-wide connection registry. byID answers "send to this
// exact connection"; byContext answers "broadcast to everyone watching
// this room/list view". Both indexes are guarded by their own mutex so a
// broadcast over one context never blocks registration of an unrelated one.
type Hub struct {
	logger *logrus.Logger

	idMu sync.RWMutex
	byID map[uuid.UUID]*Conn

	ctxMu     sync.RWMutex
	byContext map[string]map[uuid.UUID]*Conn
}

func New(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:    logger,
		byID:      make(map[uuid.UUID]*Conn),
		byContext: make(map[string]map[uuid.UUID]*Conn),
	}
}

// Register adds a connection under both indexes. Queue size 16 covers the
// event catalog this hub carries (chat, reactions, countdown ticks, game
// events) without letting a stalled reader buffer unboundedly.
func Register(h *Hub, userID uuid.UUID, ctx Context) *Conn {
	c := &Conn{
		ID:      uuid.New(),
		UserID:  userID,
		Context: ctx,
		OutChan: make(chan []byte, 16),
	}

	h.idMu.Lock()
	h.byID[c.ID] = c
	h.idMu.Unlock()

	h.ctxMu.Lock()
	bucket, ok := h.byContext[ctx.key()]
	if !ok {
		bucket = make(map[uuid.UUID]*Conn)
		h.byContext[ctx.key()] = bucket
	}
	bucket[c.ID] = c
	h.ctxMu.Unlock()

	return c
}

// Unregister removes a connection from both indexes and closes its
// outbound queue. Safe to call more than once for the same connection.
func (h *Hub) Unregister(c *Conn) {
	h.idMu.Lock()
	_, existed := h.byID[c.ID]
	delete(h.byID, c.ID)
	h.idMu.Unlock()

	h.ctxMu.Lock()
	if bucket, ok := h.byContext[c.Context.key()]; ok {
		delete(bucket, c.ID)
		if len(bucket) == 0 {
			delete(h.byContext, c.Context.key())
		}
	}
	h.ctxMu.Unlock()

	if existed {
		closeQuietly(c.OutChan)
	}
}

// Recontext moves a connection to a new Context (e.g. a lobby-list
// subscribe re-registering under a new status filter). The connection
// keeps its ID and UserID.
func (h *Hub) Recontext(c *Conn, next Context) {
	h.ctxMu.Lock()
	if bucket, ok := h.byContext[c.Context.key()]; ok {
		delete(bucket, c.ID)
		if len(bucket) == 0 {
			delete(h.byContext, c.Context.key())
		}
	}
	c.Context = next
	bucket, ok := h.byContext[next.key()]
	if !ok {
		bucket = make(map[uuid.UUID]*Conn)
		h.byContext[next.key()] = bucket
	}
	bucket[c.ID] = c
	h.ctxMu.Unlock()
}

// Get looks up a connection by ID.
func (h *Hub) Get(id uuid.UUID) (*Conn, bool) {
	h.idMu.RLock()
	defer h.idMu.RUnlock()
	c, ok := h.byID[id]
	return c, ok
}

// Send delivers msg to exactly one connection, identified by id. Returns
// false if the connection is not registered; callers treat that as an
// already-closed recipient and move on.
func (h *Hub) Send(id uuid.UUID, msg []byte) bool {
	c, ok := h.Get(id)
	if !ok {
		return false
	}
	c.Write(h.logger, msg)
	return true
}

// BroadcastRoom delivers msg to every connection currently attached to a
// room, in FIFO order per recipient only; no ordering guarantee holds
// across distinct recipients.
func (h *Hub) BroadcastRoom(lobbyID uuid.UUID, msg []byte) {
	h.broadcastContext(RoomContext(lobbyID), msg)
}

// BroadcastLobbyList delivers msg to every lobby-list subscriber whose
// filter is empty or contains status. A subscriber's
// filter is a comma-joined, sorted set of statuses (see
// internal/lobbylist.NormalizeFilter); unlike BroadcastRoom this cannot be
// a single bucket lookup, since a multi-status filter such as
// "starting,waiting" has no context key equal to any one status.
func (h *Hub) BroadcastLobbyList(status string, msg []byte) {
	for _, c := range h.LobbyListConnections() {
		if filterContains(c.Context.StatusFilter, status) {
			c.Write(h.logger, msg)
		}
	}
}

// filterContains reports whether status belongs to a normalized,
// comma-joined filter key ("" matches every status).
func filterContains(filterKey, status string) bool {
	if filterKey == "" {
		return true
	}
	for _, s := range strings.Split(filterKey, ",") {
		if s == status {
			return true
		}
	}
	return false
}

func (h *Hub) broadcastContext(ctx Context, msg []byte) {
	h.ctxMu.RLock()
	bucket := h.byContext[ctx.key()]
	conns := make([]*Conn, 0, len(bucket))
	for _, c := range bucket {
		conns = append(conns, c)
	}
	h.ctxMu.RUnlock()

	for _, c := range conns {
		c.Write(h.logger, msg)
	}
}

// LobbyListConnections returns every connection currently subscribed to a
// lobby-list view, regardless of its status filter. Used by
// BroadcastLobbyList to test each subscriber's filter against one changed
// lobby's status rather than relying on an exact-match context key, since a
// multi-status filter (e.g. "starting,waiting") has no single bucket that
// equals a single status.
func (h *Hub) LobbyListConnections() []*Conn {
	h.idMu.RLock()
	defer h.idMu.RUnlock()
	out := make([]*Conn, 0)
	for _, c := range h.byID {
		if c.Context.IsLobbyList {
			out = append(out, c)
		}
	}
	return out
}

// RoomConnections returns every connection currently attached to a room,
// e.g. for enumerating recipients of a targeted (non-broadcast) message.
func (h *Hub) RoomConnections(lobbyID uuid.UUID) []*Conn {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	bucket := h.byContext[RoomContext(lobbyID).key()]
	out := make([]*Conn, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	return out
}

func closeQuietly(ch chan []byte) {
	defer func() { recover() }()
	close(ch)
}
