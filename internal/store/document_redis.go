package store

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strconv"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStatus is the persisted state of an uploaded document.
type DocumentStatus struct {
    Status   string                 `json:"status"`
    NumPages int                    `json:"num_pages"`
    Message  string                 `json:"message,omitempty"`
    Source   string                 `json:"source,omitempty"`
    Start    *time.Time             `json:"start_time,omitempty"`
    End      *time.Time             `json:"end_time,omitempty"`
    Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentStore keeps document status hashes under doc:<id>:status.
type DocumentStore struct {
    client *redis.Client
    keyNS  string
    ttl    time.Duration
}

// NewDocumentStore connects to redisURL and pings it.
func NewDocumentStore(redisURL string, ttl time.Duration) (*DocumentStore, error) {
    c, err := connect(redisURL)
    if err != nil { return nil, err }
    return NewDocumentStoreFromClient(c, ttl), nil
}

// NewDocumentStoreFromClient wraps an existing client.
func NewDocumentStoreFromClient(c *redis.Client, ttl time.Duration) *DocumentStore {
    return &DocumentStore{client: c, keyNS: "doc", ttl: ttl}
}

func connect(redisURL string) (*redis.Client, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    c := redis.NewClient(opt)
    if err := c.Ping(context.Background()).Err(); err != nil {
        _ = c.Close()
        return nil, fmt.Errorf("ping redis: %w", err)
    }
    return c, nil
}

func (s *DocumentStore) key(docID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, docID) }

// Set writes st; fields missing from st are left as they were.
func (s *DocumentStore) Set(ctx context.Context, docID string, st DocumentStatus) error {
    m := map[string]interface{}{
        "status":    st.Status,
        "num_pages": st.NumPages,
        "message":   st.Message,
    }
    if st.Source != "" { m["source"] = st.Source }
    if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
    if st.End != nil { m["end"] = st.End.Format(time.RFC3339Nano) }
    if st.Metadata != nil {
        b, err := json.Marshal(st.Metadata)
        if err != nil { return fmt.Errorf("encode metadata: %w", err) }
        m["metadata"] = string(b)
    }
    key := s.key(docID)
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, key, m)
    if s.ttl > 0 { pipe.Expire(ctx, key, s.ttl) }
    if _, err := pipe.Exec(ctx); err != nil {
        return fmt.Errorf("set document %s status: %w", docID, err)
    }
    return nil
}

// Get returns ErrNotFound for unknown documents.
func (s *DocumentStore) Get(ctx context.Context, docID string) (DocumentStatus, error) {
    res, err := s.client.HGetAll(ctx, s.key(docID)).Result()
    if err != nil { return DocumentStatus{}, fmt.Errorf("get document %s status: %w", docID, err) }
    if len(res) == 0 { return DocumentStatus{}, ErrNotFound }
    st := DocumentStatus{
        Status:  res["status"],
        Message: res["message"],
        Source:  res["source"],
    }
    if n, err := strconv.Atoi(res["num_pages"]); err == nil { st.NumPages = n }
    if v := res["start"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
    }
    if v := res["end"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.End = &t }
    }
    if v := res["metadata"]; v != "" {
        _ = json.Unmarshal([]byte(v), &st.Metadata)
    }
    return st, nil
}

// Delete removes the status and every cached page of the document.
func (s *DocumentStore) Delete(ctx context.Context, docID string) error {
    keys := []string{s.key(docID)}
    iter := s.client.Scan(ctx, 0, fmt.Sprintf("%s:%s:page:*", s.keyNS, docID), 100).Iterator()
    for iter.Next(ctx) {
        keys = append(keys, iter.Val())
    }
    if err := iter.Err(); err != nil { return fmt.Errorf("scan document %s: %w", docID, err) }
    return s.client.Del(ctx, keys...).Err()
}

func (s *DocumentStore) Close() error { return s.client.Close() }

// Client returns the underlying Redis client
func (s *DocumentStore) Client() *redis.Client { return s.client }
