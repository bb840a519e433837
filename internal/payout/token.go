package payout

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	tokenCacheSize = 16
	// tokenSkew задаёт запас до истечения токена, после которого токен считается устаревшим.
	tokenSkew = 30 * time.Second
)

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache хранит токены доступа платёжного провайдера. Запись живёт не
// дольше maxTTL и не дольше срока, который вернул провайдер, минус tokenSkew.
type TokenCache struct {
	entries *expirable.LRU[string, cachedToken]
	now     func() time.Time
}

// NewTokenCache создаёт кэш токенов с верхней границей времени жизни maxTTL.
func NewTokenCache(maxTTL time.Duration) *TokenCache {
	return &TokenCache{
		entries: expirable.NewLRU[string, cachedToken](tokenCacheSize, nil, maxTTL),
		now:     time.Now,
	}
}

// Get возвращает действующий токен для key.
func (c *TokenCache) Get(key string) (string, bool) {
	t, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	if !c.now().Before(t.expiresAt) {
		c.entries.Remove(key)
		return "", false
	}
	return t.value, true
}

// Put сохраняет токен, выданный на expiresIn.
func (c *TokenCache) Put(key, token string, expiresIn time.Duration) {
	if expiresIn <= tokenSkew {
		return
	}
	c.entries.Add(key, cachedToken{value: token, expiresAt: c.now().Add(expiresIn - tokenSkew)})
}

// Invalidate удаляет токен, например после ответа 401.
func (c *TokenCache) Invalidate(key string) {
	c.entries.Remove(key)
}
