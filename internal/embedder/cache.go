package embedder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// CachedEmbedder serves repeated texts from a VectorCache and only sends
// misses to the wrapped Embedder, in their original relative order.
type CachedEmbedder struct {
	Embedder
	cache VectorCache
}

// NewCachedEmbedder wraps inner with cache lookups
func NewCachedEmbedder(inner Embedder, cache VectorCache) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: inner,
		cache:    cache,
	}
}

func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := c.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (c *CachedEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.Embedder.Model()
	}

	embeddings := make([]*Embedding, len(req.Texts))
	keys := make([]string, len(req.Texts))
	var missTexts []string
	var missIdx []int

	for i, text := range req.Texts {
		keys[i] = CacheKey(model, text)
		if emb, ok := c.cache.Get(keys[i]); ok {
			embeddings[i] = emb
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		resp, err := c.Embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: missTexts, Model: req.Model})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(missTexts) {
			return nil, &ServiceError{
				Provider: c.Embedder.Provider(),
				Body:     fmt.Sprintf("%v: got %d embeddings for %d texts", ErrCountMismatch, len(resp.Embeddings), len(missTexts)),
			}
		}
		for j, emb := range resp.Embeddings {
			i := missIdx[j]
			emb.Hash = keys[i]
			c.cache.Set(keys[i], emb)
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   c.Embedder.Provider(),
		Model:      model,
	}, nil
}

// Close closes the wrapped embedder and the cache when it holds resources
func (c *CachedEmbedder) Close() error {
	err := c.Embedder.Close()
	if closer, ok := c.cache.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

var bucketEmbeddings = []byte("embeddings")

// DiskCache is a VectorCache persisted in a bbolt file so repeated index
// runs over unchanged code skip the embedding service.
type DiskCache struct {
	db *bbolt.DB
}

// diskEntry is the stored value; the vector is kept as packed float32
type diskEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Vector   []byte `json:"vector"`
}

// OpenDiskCache opens or creates the cache file at path
func OpenDiskCache(path string) (*DiskCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	return &DiskCache{db: db}, nil
}

// Get returns the cached embedding for key
func (d *DiskCache) Get(key string) (*Embedding, bool) {
	var entry diskEntry
	found := false

	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEmbeddings).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil || !found {
		return nil, false
	}

	vector := unpackVector(entry.Vector)
	return &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Provider:  entry.Provider,
		Model:     entry.Model,
		Hash:      key,
	}, true
}

// Set stores emb under key. Write failures only cost a future cache miss.
func (d *DiskCache) Set(key string, emb *Embedding) {
	data, err := json.Marshal(diskEntry{
		Provider: emb.Provider,
		Model:    emb.Model,
		Vector:   packVector(emb.Vector),
	})
	if err != nil {
		return
	}

	_ = d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put([]byte(key), data)
	})
}

// Size returns the number of cached embeddings
func (d *DiskCache) Size() int {
	n := 0
	_ = d.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEmbeddings).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the underlying bbolt database
func (d *DiskCache) Close() error {
	return d.db.Close()
}

func packVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// TieredCache checks a fast cache before a slow one and promotes hits
type TieredCache struct {
	fast VectorCache
	slow VectorCache
}

// NewTieredCache layers fast (usually the LRU) over slow (usually disk)
func NewTieredCache(fast, slow VectorCache) *TieredCache {
	return &TieredCache{fast: fast, slow: slow}
}

func (t *TieredCache) Get(key string) (*Embedding, bool) {
	if emb, ok := t.fast.Get(key); ok {
		return emb, true
	}
	emb, ok := t.slow.Get(key)
	if ok {
		t.fast.Set(key, emb)
	}
	return emb, ok
}

func (t *TieredCache) Set(key string, emb *Embedding) {
	t.fast.Set(key, emb)
	t.slow.Set(key, emb)
}

// Close closes whichever tier holds resources
func (t *TieredCache) Close() error {
	var errs []error
	for _, c := range []VectorCache{t.fast, t.slow} {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
