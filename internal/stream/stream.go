// Package stream publishes round records to a Redis stream so dashboards
// and other processes can follow a run while it is in progress.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talgya/elfarol/internal/engine"
)

// Message is one round as carried on the stream.
type Message struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Iteration  int    `json:"iteration"`
	Attendance int    `json:"attendance"`
	Capacity   int    `json:"capacity"`
	Population int    `json:"population"`
	Crowded    bool   `json:"crowded"`
	Adapted    bool   `json:"adapted"`
	Switches   int    `json:"switches"`
}

// NewMessage converts a round record. Per-agent decisions are not streamed.
func NewMessage(runID string, rec engine.RoundRecord) Message {
	return Message{
		RunID:      runID,
		Iteration:  rec.Iteration,
		Attendance: rec.Attendance,
		Capacity:   rec.Capacity,
		Population: rec.Population,
		Crowded:    rec.Crowded,
		Adapted:    rec.Adapted,
		Switches:   rec.Switches,
	}
}

func (m Message) values() map[string]any {
	return map[string]any{
		"run_id":     m.RunID,
		"iteration":  m.Iteration,
		"attendance": m.Attendance,
		"capacity":   m.Capacity,
		"population": m.Population,
		"crowded":    boolString(m.Crowded),
		"adapted":    boolString(m.Adapted),
		"switches":   m.Switches,
	}
}

func parseMessage(x redis.XMessage) Message {
	return Message{
		ID:         x.ID,
		RunID:      getString(x.Values, "run_id"),
		Iteration:  getInt(x.Values, "iteration"),
		Attendance: getInt(x.Values, "attendance"),
		Capacity:   getInt(x.Values, "capacity"),
		Population: getInt(x.Values, "population"),
		Crowded:    getString(x.Values, "crowded") == "1",
		Adapted:    getString(x.Values, "adapted") == "1",
		Switches:   getInt(x.Values, "switches"),
	}
}

// Publisher appends messages to one Redis stream.
type Publisher struct {
	client *redis.Client
	key    string
	maxLen int64
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewPublisher writes to key, trimming it to roughly maxLen entries
// (0 = unbounded).
func NewPublisher(client *redis.Client, key string, maxLen int64) *Publisher {
	return &Publisher{client: client, key: key, maxLen: maxLen}
}

// Publish appends one message and returns its stream id.
func (p *Publisher) Publish(ctx context.Context, m Message) (string, error) {
	args := &redis.XAddArgs{
		Stream: p.key,
		Values: m.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish round %d: %w", m.Iteration, err)
	}
	return id, nil
}

// Read returns up to count messages after lastID, waiting up to block for
// new ones; a negative block returns immediately and zero waits forever.
// Use "0" to read from the start and "$" for only new entries. A timeout
// with no messages returns an empty slice.
func (p *Publisher) Read(ctx context.Context, lastID string, count int64, block time.Duration) ([]Message, error) {
	streams, err := p.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{p.key, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.key, err)
	}

	var out []Message
	for _, s := range streams {
		for _, x := range s.Messages {
			out = append(out, parseMessage(x))
		}
	}
	return out, nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func getString(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(values map[string]any, key string) int {
	n, _ := strconv.Atoi(getString(values, key))
	return n
}
