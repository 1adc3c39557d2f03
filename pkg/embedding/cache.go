package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"webrag-go/internal/metrics"
	"webrag-go/pkg/log"
)

// CacheStore is the subset of a key-value store the query cache needs.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisStore struct{ rdb *redis.Client }

// NewRedisCacheStore adapts a go-redis client to CacheStore.
func NewRedisCacheStore(rdb *redis.Client) CacheStore {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// cachedClient memoizes query embeddings. Document embeddings pass through since
// each chunk is embedded once per ingestion.
type cachedClient struct {
	Client
	store CacheStore
	ttl   time.Duration
}

// NewCachedClient decorates inner with a query-embedding cache. Cache failures
// are logged and never fail the call.
func NewCachedClient(inner Client, store CacheStore, ttl time.Duration) Client {
	return &cachedClient{Client: inner, store: store, ttl: ttl}
}

func (c *cachedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if b, ok, err := c.store.Get(ctx, key); err != nil {
		log.Warnf("[EmbeddingCache] 读取缓存失败: %v", err)
	} else if ok {
		if vec, derr := decodeVector(b); derr == nil && len(vec) == c.Dimensions() {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			return vec, nil
		}
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	vec, err := c.Client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败: %v", err)
	}
	return vec, nil
}

func (c *cachedClient) key(text string) string {
	h := sha256.Sum256([]byte(text))
	return "emb:query:" + c.Model() + ":" + strconv.Itoa(c.Dimensions()) + ":" + hex.EncodeToString(h[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("cached vector has invalid length")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
