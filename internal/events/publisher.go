package events

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "github.com/local/bboxviewer/internal/viewer"
)

// Publisher appends session events to redis streams named <prefix>:<session>.
type Publisher struct {
    client  *redis.Client
    prefix  string
    maxLen  int64
    timeout time.Duration
}

// NewPublisher connects to Redis and pings it.
func NewPublisher(redisURL, prefix string, maxLen int64) (*Publisher, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    c := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil {
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewPublisherFromClient(c, prefix, maxLen), nil
}

// NewPublisherFromClient wraps an existing client.
func NewPublisherFromClient(c *redis.Client, prefix string, maxLen int64) *Publisher {
    if prefix == "" { prefix = "viewer:events" }
    return &Publisher{client: c, prefix: prefix, maxLen: maxLen, timeout: 2 * time.Second}
}

func (p *Publisher) Close() error { return p.client.Close() }

// Ping checks redis connectivity.
func (p *Publisher) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// Stream is the stream key for a session.
func (p *Publisher) Stream(session string) string { return p.prefix + ":" + session }

// Publish adds ev as a single-field entry {data: <json>} and returns its id.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
    if ev.At.IsZero() { ev.At = time.Now().UTC() }
    ev.ID = ""
    b, err := json.Marshal(ev)
    if err != nil {
        return "", fmt.Errorf("encode event: %w", err)
    }
    args := &redis.XAddArgs{
        Stream: p.Stream(ev.Session),
        Values: map[string]any{"type": string(ev.Type), "data": string(b)},
    }
    if p.maxLen > 0 { args.MaxLen = p.maxLen }
    id, err := p.client.XAdd(ctx, args).Result()
    if err != nil {
        return "", fmt.Errorf("xadd %s: %w", args.Stream, err)
    }
    return id, nil
}

// Observer returns a viewer.Observer that publishes every notification for
// session. Publish failures are logged and dropped.
func (p *Publisher) Observer(session string) viewer.Observer {
    return newAdapter(session, func(ev Event) {
        ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
        defer cancel()
        if _, err := p.Publish(ctx, ev); err != nil {
            log.Warn().Err(err).Str("session", session).Str("type", string(ev.Type)).Msg("event publish failed")
        }
    })
}

// Read returns up to count events after the given id ("" reads from the
// start). With block > 0 it waits that long for new entries.
func (p *Publisher) Read(ctx context.Context, session, after string, block time.Duration, count int64) ([]Event, error) {
    if after == "" { after = "0" }
    if count <= 0 { count = 100 }
    args := &redis.XReadArgs{
        Streams: []string{p.Stream(session), after},
        Count:   count,
        Block:   -1,
    }
    if block > 0 { args.Block = block }
    res, err := p.client.XRead(ctx, args).Result()
    if err != nil {
        if errors.Is(err, redis.Nil) { return nil, nil }
        return nil, fmt.Errorf("xread %s: %w", p.Stream(session), err)
    }
    var out []Event
    for _, stream := range res {
        for _, msg := range stream.Messages {
            ev, err := decode(msg)
            if err != nil {
                log.Warn().Err(err).Str("id", msg.ID).Msg("skipping undecodable event")
                continue
            }
            out = append(out, ev)
        }
    }
    return out, nil
}

// Len is the number of retained events for a session.
func (p *Publisher) Len(ctx context.Context, session string) (int64, error) {
    return p.client.XLen(ctx, p.Stream(session)).Result()
}

// Delete drops a session's stream.
func (p *Publisher) Delete(ctx context.Context, session string) error {
    return p.client.Del(ctx, p.Stream(session)).Err()
}

func decode(msg redis.XMessage) (Event, error) {
    var raw []byte
    switch t := msg.Values["data"].(type) {
    case string:
        raw = []byte(t)
    case []byte:
        raw = t
    default:
        return Event{}, fmt.Errorf("entry %s has no data field", msg.ID)
    }
    var ev Event
    if err := json.Unmarshal(raw, &ev); err != nil {
        return Event{}, fmt.Errorf("decode event: %w", err)
    }
    ev.ID = msg.ID
    return ev, nil
}
