package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/dgraph-io/ristretto"
)

// Parser memoises Parse, keyed by a hash of the flow text.
type Parser struct {
	cache *ristretto.Cache
	l     *slog.Logger
}

func NewParser(size int64, l *slog.Logger) (*Parser, error) {
	if size <= 0 {
		size = 1000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Parser{cache: cache, l: l}, nil
}

// Parse behaves like the package level Parse. The returned definition is
// a copy and may be modified by the caller.
func (p *Parser) Parse(text string) Definition {
	key := cacheKey(text)

	if v, ok := p.cache.Get(key); ok {
		if d, ok := v.(Definition); ok {
			return d.Clone()
		}
	}

	d, err := ParseResult(text)
	if err != nil {
		p.l.Error("failed to parse flow", "error", err)
	}

	p.cache.Set(key, d.Clone(), 1)
	return d
}

func (p *Parser) Close() {
	p.cache.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
