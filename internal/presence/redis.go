package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes presence to Redis so other processes can read it.
// The online set lives at "<prefix>:online" and every change is published
// on "<prefix>:presence" as {"user","online","users"}.
type RedisMirror struct {
	rdb     *redis.Client
	setKey  string
	channel string
	timeout time.Duration
}

type presenceEvent struct {
	User   string   `json:"user"`
	Online bool     `json:"online"`
	Users  []string `json:"users"`
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(rdb *redis.Client, prefix string, timeout time.Duration) *RedisMirror {
	return &RedisMirror{
		rdb:     rdb,
		setKey:  prefix + ":online",
		channel: prefix + ":presence",
		timeout: timeout,
	}
}

// Reset clears presence left behind by a previous process. Connections do
// not survive a restart, so nobody is online at startup.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.rdb.Del(ctx, m.setKey).Err(); err != nil {
		return fmt.Errorf("failed to reset presence set: %w", err)
	}
	return nil
}

// Members reads the mirrored online set.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	return m.rdb.SMembers(ctx, m.setKey).Result()
}

// Subscribe listens for presence events from any process.
func (m *RedisMirror) Subscribe(ctx context.Context) *redis.PubSub {
	return m.rdb.Subscribe(ctx, m.channel)
}

func (m *RedisMirror) Online(username string, users []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.rdb.SAdd(ctx, m.setKey, username).Err(); err != nil {
		log.Printf("Redis presence add failed for user %s: %v", username, err)
		return
	}
	m.publish(ctx, presenceEvent{User: username, Online: true, Users: users})
}

func (m *RedisMirror) Offline(username string, users []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.rdb.SRem(ctx, m.setKey, username).Err(); err != nil {
		log.Printf("Redis presence remove failed for user %s: %v", username, err)
		return
	}
	m.publish(ctx, presenceEvent{User: username, Online: false, Users: users})
}

func (m *RedisMirror) publish(ctx context.Context, ev presenceEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal presence event: %v", err)
		return
	}
	if err := m.rdb.Publish(ctx, m.channel, data).Err(); err != nil {
		log.Printf("Redis presence publish failed: %v", err)
	}
}
