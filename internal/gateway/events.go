package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// Gateway event names
const (
	EventPresenceUpdate = "PRESENCE_UPDATE"
	EventTyping         = "TYPING"
	EventFriendCreate   = "FRIEND_CREATE"
	EventFriendDelete   = "FRIEND_DELETE"
	EventRequestCreate  = "REQUEST_CREATE"
	EventRequestDelete  = "REQUEST_DELETE"
)

// Cache is the object cache the gateway projects events onto
type Cache interface {
	Hydrate(users []models.GatewayUser)
	UpsertChannels(channels []models.Channel)
	Prefetch(ctx context.Context) error
	Fetch(ctx context.Context, id string) (models.User, bool)
	SetPresence(id string, presence models.Presence) bool
	AddFriend(id string) bool
	RemoveFriend(id string) bool
	AddRequest(request models.FriendRequest) bool
	RemoveRequest(request models.FriendRequest) bool
	AddPartialUser(id string) bool
}

// EventHandler applies one event payload to the cache
type EventHandler func(ctx context.Context, data json.RawMessage) error

// Dispatcher routes EVENT frames to their handlers
type Dispatcher struct {
	cache    Cache
	logger   *zap.Logger
	handlers map[string]EventHandler
	fetches  sync.WaitGroup
}

type presenceUpdateEvent struct {
	UserID      string           `json:"userId"`
	OldPresence *models.Presence `json:"oldPresence"`
	NewPresence *models.Presence `json:"newPresence"`
}

type friendEvent struct {
	UserID string `json:"userId"`
}

// NewDispatcher creates a dispatcher with the built-in handlers
func NewDispatcher(cache Cache, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		cache:  cache,
		logger: logger.Named("events"),
	}
	d.handlers = map[string]EventHandler{
		EventPresenceUpdate: d.handlePresenceUpdate,
		EventTyping:         d.handleTyping,
		EventFriendCreate:   d.handleFriendCreate,
		EventFriendDelete:   d.handleFriendDelete,
		EventRequestCreate:  d.handleRequestCreate,
		EventRequestDelete:  d.handleRequestDelete,
	}
	return d
}

// Dispatch runs the handler for an event frame. Frames that are not
// sequenced events, and events without a handler, are ignored. It reports
// whether a handler ran to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, frame Frame) bool {
	if frame.Op != OpEvent || frame.Event == "" || frame.Seq == nil {
		d.logger.Debug("dropping non-event frame",
			zap.Stringer("op", frame.Op),
			zap.String("event", frame.Event),
		)
		return false
	}

	handler, ok := d.handlers[frame.Event]
	if !ok {
		d.logger.Debug("ignoring unknown event", zap.String("event", frame.Event))
		return false
	}

	if err := d.run(ctx, handler, frame.Data); err != nil {
		d.logger.Error("failed to handle gateway event",
			zap.String("event", frame.Event),
			zap.Int64("seq", *frame.Seq),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Wait blocks until background fetches started by handlers finish
func (d *Dispatcher) Wait() {
	d.fetches.Wait()
}

func (d *Dispatcher) run(ctx context.Context, handler EventHandler, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, data)
}

func (d *Dispatcher) handlePresenceUpdate(_ context.Context, data json.RawMessage) error {
	var event presenceUpdateEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal PRESENCE_UPDATE: %w", err)
	}
	if event.UserID == "" {
		return fmt.Errorf("PRESENCE_UPDATE missing userId")
	}

	presence := models.OfflinePresence()
	if event.NewPresence != nil {
		presence = *event.NewPresence
	}

	if !d.cache.SetPresence(event.UserID, presence) {
		d.logger.Debug("presence update for unknown user", zap.String("user_id", event.UserID))
	}
	return nil
}

func (d *Dispatcher) handleTyping(context.Context, json.RawMessage) error {
	return nil
}

func (d *Dispatcher) handleFriendCreate(_ context.Context, data json.RawMessage) error {
	var event friendEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal FRIEND_CREATE: %w", err)
	}
	if event.UserID == "" {
		return fmt.Errorf("FRIEND_CREATE missing userId")
	}

	d.cache.AddFriend(event.UserID)
	return nil
}

func (d *Dispatcher) handleFriendDelete(_ context.Context, data json.RawMessage) error {
	var event friendEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal FRIEND_DELETE: %w", err)
	}
	if event.UserID == "" {
		return fmt.Errorf("FRIEND_DELETE missing userId")
	}

	d.cache.RemoveFriend(event.UserID)
	return nil
}

func (d *Dispatcher) handleRequestCreate(ctx context.Context, data json.RawMessage) error {
	request, err := decodeRequest(EventRequestCreate, data)
	if err != nil {
		return err
	}

	d.cache.AddRequest(request)

	counterpart := request.Counterpart()
	d.cache.AddPartialUser(counterpart)

	d.fetches.Add(1)
	go func() {
		defer d.fetches.Done()
		if _, ok := d.cache.Fetch(ctx, counterpart); !ok {
			d.logger.Warn("failed to resolve friend request user", zap.String("user_id", counterpart))
		}
	}()
	return nil
}

func (d *Dispatcher) handleRequestDelete(_ context.Context, data json.RawMessage) error {
	request, err := decodeRequest(EventRequestDelete, data)
	if err != nil {
		return err
	}

	d.cache.RemoveRequest(request)
	return nil
}

func decodeRequest(event string, data json.RawMessage) (models.FriendRequest, error) {
	var request models.FriendRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return request, fmt.Errorf("failed to unmarshal %s: %w", event, err)
	}
	if request.From == "" || request.To == "" {
		return request, fmt.Errorf("%s missing from or to", event)
	}
	if request.Direction != models.RequestIncoming && request.Direction != models.RequestOutgoing {
		return request, fmt.Errorf("%s has invalid direction %q", event, request.Direction)
	}
	return request, nil
}
