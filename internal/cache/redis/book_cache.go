package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cryptoquant/internal/codec"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// DefaultBookTTL expires mirrored books whose feed has gone quiet.
const DefaultBookTTL = time.Minute

const (
	encBinary = "bin"
	encJSON   = "json"
)

// BookCache implements domain.BookCache. Each symbol is one hash:
//
//	bookcache:{SYM}  payload  snapshot (binary codec, JSON for symbols without a wire id)
//	                 enc      "bin" | "json"
//	                 bid ask  best prices
//	                 ts       snapshot timestamp (ms)
type BookCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewBookCache creates a BookCache. ttl <= 0 selects DefaultBookTTL.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	if ttl <= 0 {
		ttl = DefaultBookTTL
	}
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookKey(sym domain.Symbol) string { return "bookcache:" + string(sym) }

// SetBook replaces the mirrored snapshot atomically.
func (bc *BookCache) SetBook(ctx context.Context, book domain.OrderBook) error {
	payload, enc, err := encodeBook(book)
	if err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.Symbol, err)
	}
	key := bookKey(book.Symbol)

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"payload", payload,
		"enc", enc,
		"bid", formatFloat(book.BestBid()),
		"ask", formatFloat(book.BestAsk()),
		"ts", strconv.FormatUint(book.Timestamp, 10),
	)
	pipe.Expire(ctx, key, bc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.Symbol, err)
	}
	return nil
}

// GetBook returns the mirrored snapshot or domain.ErrNotFound.
func (bc *BookCache) GetBook(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	vals, err := bc.rdb.HMGet(ctx, bookKey(sym), "payload", "enc").Result()
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", sym, err)
	}
	payload, ok1 := vals[0].(string)
	enc, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", sym, domain.ErrNotFound)
	}
	book, err := decodeBook([]byte(payload), enc)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", sym, err)
	}
	return book, nil
}

// GetBBO reads only the best bid and ask.
func (bc *BookCache) GetBBO(ctx context.Context, sym domain.Symbol) (float64, float64, error) {
	vals, err := bc.rdb.HMGet(ctx, bookKey(sym), "bid", "ask").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", sym, err)
	}
	bidStr, ok1 := vals[0].(string)
	askStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", sym, domain.ErrNotFound)
	}
	bid, err1 := strconv.ParseFloat(bidStr, 64)
	ask, err2 := strconv.ParseFloat(askStr, 64)
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w: %v", sym, domain.ErrProtocol, err)
	}
	return bid, ask, nil
}

func encodeBook(book domain.OrderBook) ([]byte, string, error) {
	if _, ok := book.Symbol.ID(); ok {
		b, err := codec.EncodeOrderBook(nil, book)
		return b, encBinary, err
	}
	b, err := json.Marshal(book)
	return b, encJSON, err
}

func decodeBook(payload []byte, enc string) (domain.OrderBook, error) {
	switch enc {
	case encBinary:
		return codec.DecodeOrderBook(payload)
	case encJSON:
		var book domain.OrderBook
		if err := json.Unmarshal(payload, &book); err != nil {
			return domain.OrderBook{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
		}
		return book, nil
	}
	return domain.OrderBook{}, fmt.Errorf("%w: unknown encoding %q", domain.ErrProtocol, enc)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ domain.BookCache = (*BookCache)(nil)
