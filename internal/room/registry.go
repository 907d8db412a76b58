package room

import (
	"context"
	"sync"
	"time"

	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/ws"

	"github.com/google/uuid"
)

// Sender is the outbound half of a connection. Enqueue must not block;
// it reports false when the peer is too slow and has been dropped.
type Sender interface {
	Enqueue(data []byte) bool
	Close()
}

// TokenValidator resolves a token to an identity. Implemented by pkg/jwt.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Connection is the ephemeral server-side state for one open socket.
// All fields are owned by the Registry and mutated under its lock; code
// running off the registry reads them through SnapshotOf.
type Connection struct {
	ID          string
	Identity    string // empty until authenticated
	DisplayName string
	Role        jwt.Role
	RoomID      string // empty while not joined
	LastSeen    time.Time
	Violations  int

	sender Sender
}

// Authenticated reports whether the connection has resolved an identity.
func (c *Connection) Authenticated() bool {
	return c.Identity != ""
}

// Enqueue pushes an outbound frame to this connection.
func (c *Connection) Enqueue(data []byte) bool {
	if data == nil || c.sender == nil {
		return false
	}
	return c.sender.Enqueue(data)
}

type room struct {
	createdAt time.Time
	members   map[string]*Connection // identity -> connection
}

// Registry tracks live connections and room membership. It is the single
// writer for all connection and membership state.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
	rooms map[string]*room

	validator         TokenValidator
	heartbeatInterval time.Duration
	log               *logger.Logger

	// onEvict runs outside the lock for each swept connection so the
	// transport can close the underlying socket.
	onEvict func(*Connection)
}

// NewRegistry creates a registry using the given token validator.
func NewRegistry(validator TokenValidator, heartbeatInterval time.Duration, log *logger.Logger) *Registry {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 60 * time.Second
	}
	return &Registry{
		conns:             make(map[string]*Connection),
		rooms:             make(map[string]*room),
		validator:         validator,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// SetEvictHandler registers a callback invoked for connections removed by
// the liveness sweep.
func (r *Registry) SetEvictHandler(fn func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// OnConnect registers a new unauthenticated connection and returns it.
func (r *Registry) OnConnect(sender Sender) *Connection {
	conn := &Connection{
		ID:       uuid.New().String(),
		LastSeen: time.Now(),
		sender:   sender,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.log.Debug("connection registered", "connection_id", conn.ID)
	return conn
}

// Authenticate resolves an identity for the connection via the token
// validator and marks it authenticated.
func (r *Registry) Authenticate(conn *Connection, token string) (*jwt.Claims, error) {
	if token == "" {
		return nil, errors.NewAuthError("TOKEN_REQUIRED", "Authentication token is required")
	}

	claims, err := r.validator.ValidateToken(token)
	if err != nil {
		return nil, errors.NewAuthError("INVALID_TOKEN", "Invalid or expired token")
	}

	r.mu.Lock()
	conn.Identity = claims.UserID
	conn.DisplayName = claims.DisplayName
	conn.Role = claims.Role
	conn.LastSeen = time.Now()
	r.mu.Unlock()

	r.log.Info("connection authenticated",
		"connection_id", conn.ID,
		"identity", claims.UserID,
		"role", string(claims.Role),
	)
	return claims, nil
}

// JoinRoom adds an authenticated connection to a room, creating the room on
// first join. It broadcasts user_joined to the existing members and returns
// the membership snapshot for the joiner's acknowledgment. Rejoining the
// same room is a no-op on membership.
func (r *Registry) JoinRoom(conn *Connection, roomID string) ([]ws.Member, error) {
	if roomID == "" {
		return nil, errors.NewValidationError("ROOM_REQUIRED", "room_id is required")
	}
	if !conn.Authenticated() {
		return nil, errors.NewPermissionError("NOT_AUTHENTICATED", "Authenticate before joining a room")
	}

	r.mu.Lock()

	// Leaving the previous room first keeps a connection in at most one room.
	if conn.RoomID != "" && conn.RoomID != roomID {
		r.removeFromRoomLocked(conn, true)
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{createdAt: time.Now(), members: make(map[string]*Connection)}
		r.rooms[roomID] = rm
	}

	_, already := rm.members[conn.Identity]
	rm.members[conn.Identity] = conn
	conn.RoomID = roomID
	conn.LastSeen = time.Now()

	snapshot := r.membersLocked(roomID)
	var notify []byte
	if !already {
		notify = ws.MustMarshal(ws.EventUserJoined, ws.Member{
			Identity:    conn.Identity,
			DisplayName: conn.DisplayName,
			Role:        string(conn.Role),
		})
	}
	targets := r.roomTargetsLocked(roomID, conn.Identity)
	r.mu.Unlock()

	if notify != nil {
		for _, t := range targets {
			t.Enqueue(notify)
		}
	}

	r.log.Info("joined room", "identity", conn.Identity, "room_id", roomID, "members", len(snapshot))
	return snapshot, nil
}

// LeaveRoom removes the connection from its current room, notifying the
// remaining members and deleting the room if it became empty.
func (r *Registry) LeaveRoom(conn *Connection) error {
	r.mu.Lock()
	if conn.RoomID == "" {
		r.mu.Unlock()
		return errors.NewStateError("NOT_IN_ROOM", "Connection is not in a room")
	}
	r.removeFromRoomLocked(conn, true)
	r.mu.Unlock()
	return nil
}

// Disconnect tears down the connection: room removal with user_left
// notification, deregistration and sender close.
func (r *Registry) Disconnect(conn *Connection) {
	r.mu.Lock()
	if conn.RoomID != "" {
		r.removeFromRoomLocked(conn, true)
	}
	delete(r.conns, conn.ID)
	r.mu.Unlock()

	if conn.sender != nil {
		conn.sender.Close()
	}
	r.log.Debug("connection removed", "connection_id", conn.ID, "identity", conn.Identity)
}

// Touch records a liveness signal for the connection.
func (r *Registry) Touch(conn *Connection) {
	r.mu.Lock()
	conn.LastSeen = time.Now()
	r.mu.Unlock()
}

// Sweep evicts connections whose last liveness signal is older than the
// heartbeat interval, treating them as abrupt disconnects. It returns the
// evicted connections.
func (r *Registry) Sweep(now time.Time) []*Connection {
	r.mu.Lock()
	var stale []*Connection
	for _, conn := range r.conns {
		if now.Sub(conn.LastSeen) > r.heartbeatInterval {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		if conn.RoomID != "" {
			r.removeFromRoomLocked(conn, true)
		}
		delete(r.conns, conn.ID)
	}
	onEvict := r.onEvict
	r.mu.Unlock()

	for _, conn := range stale {
		if conn.sender != nil {
			conn.sender.Close()
		}
		if onEvict != nil {
			onEvict(conn)
		}
		r.log.Warn("connection evicted by liveness sweep",
			"connection_id", conn.ID,
			"identity", conn.Identity,
		)
	}
	return stale
}

// StartSweeper runs the liveness sweep periodically until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.Sweep(now)
			}
		}
	}()
}

// Broadcast delivers a frame to every member of the room, optionally
// excluding one identity. It returns the number of deliveries attempted.
func (r *Registry) Broadcast(roomID string, data []byte, excludeIdentity string) int {
	if data == nil {
		return 0
	}
	r.mu.Lock()
	targets := r.roomTargetsLocked(roomID, excludeIdentity)
	r.mu.Unlock()

	for _, t := range targets {
		t.Enqueue(data)
	}
	return len(targets)
}

// BroadcastEvent marshals payload into an envelope and broadcasts it.
func (r *Registry) BroadcastEvent(roomID string, eventType ws.EventType, payload any, excludeIdentity string) int {
	return r.Broadcast(roomID, ws.MustMarshal(eventType, payload), excludeIdentity)
}

// Members returns the membership snapshot of a room.
func (r *Registry) Members(roomID string) []ws.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked(roomID)
}

// HasRoom reports whether the room currently exists.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// ConnectionsByIdentity returns the live connections for an identity, used
// for immediate private-message delivery.
func (r *Registry) ConnectionsByIdentity(identity string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Connection
	for _, conn := range r.conns {
		if conn.Identity == identity {
			out = append(out, conn)
		}
	}
	return out
}

// Counts returns the number of live connections and rooms, for metrics.
func (r *Registry) Counts() (connections int, rooms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns), len(r.rooms)
}

// Snapshot is a point-in-time copy of a connection's mutable fields.
type Snapshot struct {
	ID          string
	Identity    string
	DisplayName string
	Role        jwt.Role
	RoomID      string
	Violations  int
}

// Authenticated reports whether the snapshot carries an identity.
func (s Snapshot) Authenticated() bool {
	return s.Identity != ""
}

// SnapshotOf copies the connection's mutable fields under the lock. The
// liveness sweeper rewrites RoomID concurrently with dispatch, so dispatch
// paths read this copy instead of the live fields.
func (r *Registry) SnapshotOf(conn *Connection) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:          conn.ID,
		Identity:    conn.Identity,
		DisplayName: conn.DisplayName,
		Role:        conn.Role,
		RoomID:      conn.RoomID,
		Violations:  conn.Violations,
	}
}

// RecordViolation bumps the connection's violation counter and returns it.
func (r *Registry) RecordViolation(conn *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.Violations++
	return conn.Violations
}

func (r *Registry) membersLocked(roomID string) []ws.Member {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]ws.Member, 0, len(rm.members))
	for _, conn := range rm.members {
		members = append(members, ws.Member{
			Identity:    conn.Identity,
			DisplayName: conn.DisplayName,
			Role:        string(conn.Role),
		})
	}
	return members
}

func (r *Registry) roomTargetsLocked(roomID, excludeIdentity string) []*Connection {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	targets := make([]*Connection, 0, len(rm.members))
	for identity, conn := range rm.members {
		if excludeIdentity != "" && identity == excludeIdentity {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

// removeFromRoomLocked detaches the connection from its room, notifies the
// remaining members and deletes the room when empty. Caller holds the lock.
func (r *Registry) removeFromRoomLocked(conn *Connection, notify bool) {
	rm, ok := r.rooms[conn.RoomID]
	if !ok {
		conn.RoomID = ""
		return
	}

	// Only remove the mapping if it still points at this connection; the
	// identity may have rejoined from a newer socket.
	if current, ok := rm.members[conn.Identity]; ok && current == conn {
		delete(rm.members, conn.Identity)

		if notify {
			data := ws.MustMarshal(ws.EventUserLeft, ws.Member{
				Identity:    conn.Identity,
				DisplayName: conn.DisplayName,
				Role:        string(conn.Role),
			})
			if data != nil {
				for _, member := range rm.members {
					member.Enqueue(data)
				}
			}
		}
	}

	if len(rm.members) == 0 {
		delete(r.rooms, conn.RoomID)
	}
	conn.RoomID = ""
}
