package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/store"
)

// ChangeNotifierRepository relays record store change paths over Redis pub/sub so
// every API instance sees writes committed by the others.
type ChangeNotifierRepository struct {
	client  *redis.Client
	channel string
	hub     *store.Hub
	logger  *zap.Logger
}

type changeMessage struct {
	Paths []string  `json:"paths"`
	At    time.Time `json:"at"`
}

// NewChangeNotifierRepository constructs the notifier. A nil client makes it deliver to hub directly.
func NewChangeNotifierRepository(client *redis.Client, channel string, hub *store.Hub, logger *zap.Logger) *ChangeNotifierRepository {
	if channel == "" {
		channel = "record_store:changes"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeNotifierRepository{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish implements store.Publisher.
func (r *ChangeNotifierRepository) Publish(ctx context.Context, paths []string) error {
	if r.client == nil {
		return r.hub.Publish(ctx, paths)
	}
	payload, err := json.Marshal(changeMessage{Paths: paths, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal change message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Listen forwards messages from the channel to the hub until ctx is cancelled.
func (r *ChangeNotifierRepository) Listen(ctx context.Context) error {
	if r.client == nil {
		<-ctx.Done()
		return nil
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.dispatch(ctx, msg.Payload)
		}
	}
}

func (r *ChangeNotifierRepository) dispatch(ctx context.Context, payload string) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("discarding malformed change message", zap.String("channel", r.channel), zap.Error(err))
		return
	}
	if len(msg.Paths) == 0 {
		return
	}
	if err := r.hub.Publish(ctx, msg.Paths); err != nil {
		r.logger.Warn("change dispatch failed", zap.Error(err))
	}
}
