package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an entry survives without a heartbeat.
const DefaultTTL = 30 * time.Second

// Data is the per-connection record stored in Redis. Presence here is
// coarse occupancy for dashboards and room listings; fine-grained
// peer state travels over the awareness channel instead.
type Data struct {
	UserID      string `json:"user_id"`
	RoomID      string `json:"room_id"`
	Nickname    string `json:"nickname,omitempty"`
	ConnectedAt int64  `json:"connected_at"`
	ServerID    string `json:"server_id"`
}

// Manager tracks who is connected to which room.
type Manager struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
}

// NewManager connects to Redis. ttl <= 0 uses DefaultTTL.
func NewManager(addr, password string, db int, serverID string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Manager{client: rdb, serverID: serverID, ttl: ttl}
}

func (m *Manager) key(roomID, userID string) string {
	return fmt.Sprintf("presence:room:%s:user:%s", roomID, userID)
}

// Connected records a user joining a room.
func (m *Manager) Connected(ctx context.Context, roomID, userID, nickname string) error {
	data := Data{
		UserID:      userID,
		RoomID:      roomID,
		Nickname:    nickname,
		ConnectedAt: time.Now().Unix(),
		ServerID:    m.serverID,
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(roomID, userID), jsonData, m.ttl).Err()
}

// Heartbeat extends the TTL of an existing entry.
func (m *Manager) Heartbeat(ctx context.Context, roomID, userID string) error {
	ok, err := m.client.Expire(ctx, m.key(roomID, userID), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s not present in room %s", userID, roomID)
	}
	return nil
}

// Disconnected removes a user's entry on clean disconnect; otherwise
// the TTL reaps it.
func (m *Manager) Disconnected(ctx context.Context, roomID, userID string) error {
	return m.client.Del(ctx, m.key(roomID, userID)).Err()
}

// RoomMembers lists everyone currently present in a room.
func (m *Manager) RoomMembers(ctx context.Context, roomID string) ([]Data, error) {
	pattern := fmt.Sprintf("presence:room:%s:user:*", roomID)
	var members []Data
	iter := m.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return members, nil
	}

	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		strVal, ok := result.(string)
		if !ok {
			continue
		}
		var data Data
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			members = append(members, data)
		}
	}
	return members, nil
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
