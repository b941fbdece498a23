package store

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    redis "github.com/redis/go-redis/v9"

    "github.com/local/bboxviewer/internal/bbox"
)

// PageBboxes is a page's resolved bbox list as cached in redis. Source names
// the writer: "api" or "session:<id>".
type PageBboxes struct {
    Bboxes     []bbox.Bbox `json:"bboxes"`
    ResolvedAt time.Time   `json:"resolved_at"`
    Source     string      `json:"source,omitempty"`
}

// BboxStore caches resolved bboxes under doc:<id>:page:<n>.
type BboxStore struct {
    client *redis.Client
    ttl    time.Duration
}

func NewBboxStore(redisURL string, ttl time.Duration) (*BboxStore, error) {
    c, err := connect(redisURL)
    if err != nil { return nil, err }
    return NewBboxStoreFromClient(c, ttl), nil
}

func NewBboxStoreFromClient(c *redis.Client, ttl time.Duration) *BboxStore {
    return &BboxStore{client: c, ttl: ttl}
}

func (s *BboxStore) Close() error { return s.client.Close() }

func (s *BboxStore) pageKey(docID string, page int) string {
    return fmt.Sprintf("doc:%s:page:%d", docID, page)
}

// SavePage overwrites the cached list for a page; the last writer wins.
func (s *BboxStore) SavePage(ctx context.Context, docID string, page int, list []bbox.Bbox, source string) error {
    b, err := json.Marshal(list)
    if err != nil { return fmt.Errorf("encode bboxes: %w", err) }
    key := s.pageKey(docID, page)
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, key, map[string]interface{}{
        "bboxes":      string(b),
        "resolved_at": time.Now().UTC().Format(time.RFC3339Nano),
        "source":      source,
    })
    if s.ttl > 0 { pipe.Expire(ctx, key, s.ttl) }
    if _, err := pipe.Exec(ctx); err != nil {
        return fmt.Errorf("save bboxes for %s page %d: %w", docID, page, err)
    }
    return nil
}

// GetPage returns ErrNotFound when nothing was cached for the page.
func (s *BboxStore) GetPage(ctx context.Context, docID string, page int) (PageBboxes, error) {
    res, err := s.client.HGetAll(ctx, s.pageKey(docID, page)).Result()
    if errors.Is(err, redis.Nil) || (err == nil && len(res) == 0) {
        return PageBboxes{}, ErrNotFound
    }
    if err != nil { return PageBboxes{}, fmt.Errorf("get bboxes for %s page %d: %w", docID, page, err) }
    var out PageBboxes
    if err := json.Unmarshal([]byte(res["bboxes"]), &out.Bboxes); err != nil {
        return PageBboxes{}, fmt.Errorf("decode bboxes: %w", err)
    }
    if t, err := time.Parse(time.RFC3339Nano, res["resolved_at"]); err == nil { out.ResolvedAt = t }
    out.Source = res["source"]
    return out, nil
}
