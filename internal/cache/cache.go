package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

const keyPrefix = "scribe:reply:"

// KV is the minimal key-value store the reply cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// LLM caches analyzer replies keyed by namespace, system prompt and prompt.
// Cache failures are logged and never fail a call.
type LLM struct {
	next      extractor.LLM
	kv        KV
	ttl       time.Duration
	namespace string
	logger    *slog.Logger
}

// New wraps next. namespace separates entries of different models.
func New(next extractor.LLM, kv KV, ttl time.Duration, namespace string, logger *slog.Logger) *LLM {
	return &LLM{next: next, kv: kv, ttl: ttl, namespace: namespace, logger: logger}
}

func (c *LLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	key := c.key(system, prompt)

	if v, ok, err := c.kv.Get(ctx, key); err != nil {
		c.logger.Warn("reply cache read failed", "error", err)
	} else if ok {
		c.logger.Debug("reply cache hit", "key", key)
		return v, nil
	}

	reply, err := c.next.Generate(ctx, system, prompt)
	if err != nil {
		return "", err
	}

	// Unparseable replies are not cached.
	if _, perr := extractor.ParseReply(reply); perr == nil {
		if err := c.kv.Set(ctx, key, reply, c.ttl); err != nil {
			c.logger.Warn("reply cache write failed", "error", err)
		}
	}
	return reply, nil
}

func (c *LLM) key(system, prompt string) string {
	h := sha256.New()
	h.Write([]byte(c.namespace))
	h.Write([]byte{0})
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}
