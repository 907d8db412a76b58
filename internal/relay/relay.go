package relay

import (
	"context"
	"encoding/json"
	"time"

	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/pkg/logger"
	"live-interview-chat/backend/pkg/ws"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// channel is the redis pub/sub channel every instance subscribes to.
const channel = "chat:relay"

// envelope is the cross-instance wire format. Origin lets an instance skip
// its own publications when they come back around.
type envelope struct {
	Origin  string          `json:"origin"`
	RoomID  string          `json:"room_id"`
	Kind    ws.RelayKind    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Relay fans room events out across instances over redis pub/sub. Each
// instance publishes its locally originated events and replays the other
// instances' events to its own connected clients.
type Relay struct {
	instanceID string
	client     *redis.Client
	registry   *room.Registry
	log        *logger.Logger
}

// New creates a relay bound to the local registry.
func New(client *redis.Client, registry *room.Registry, log *logger.Logger) *Relay {
	return &Relay{
		instanceID: uuid.New().String(),
		client:     client,
		registry:   registry,
		log:        log,
	}
}

// Publish sends a room event to the other instances. Failures are logged
// and dropped; local delivery already happened.
func (r *Relay) Publish(roomID string, kind ws.RelayKind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.LogError(err, "relay payload marshal failed", "room_id", roomID)
		return
	}
	frame, err := json.Marshal(envelope{
		Origin:  r.instanceID,
		RoomID:  roomID,
		Kind:    kind,
		Payload: data,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, channel, frame).Err(); err != nil {
		r.log.LogError(err, "relay publish failed", "room_id", roomID)
	}
}

// Start subscribes to the relay channel and replays remote events until ctx
// is done.
func (r *Relay) Start(ctx context.Context) {
	sub := r.client.Subscribe(ctx, channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handle([]byte(msg.Payload))
			}
		}
	}()
	r.log.Info("broadcast relay subscribed", "channel", channel, "instance_id", r.instanceID)
}

// Deliver fans a relay request out to the locally connected members of the
// room. Used by both the pub/sub subscriber and the HTTP relay endpoint.
func (r *Relay) Deliver(req ws.RelayRequest) (int, bool) {
	eventType, ok := ws.EventTypeForRelay(req.Kind)
	if !ok {
		return 0, false
	}
	data := ws.MustMarshal(eventType, req.Payload)
	return r.registry.Broadcast(req.RoomID, data, ""), true
}

func (r *Relay) handle(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.log.Warn("relay frame dropped", "error", err.Error())
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	delivered, ok := r.Deliver(ws.RelayRequest{RoomID: env.RoomID, Kind: env.Kind, Payload: env.Payload})
	if !ok {
		r.log.Warn("relay frame with unknown kind dropped", "kind", string(env.Kind))
		return
	}
	r.log.Debug("relay frame delivered", "room_id", env.RoomID, "recipients", delivered)
}
