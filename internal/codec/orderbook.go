// Package codec converts order books to and from the fixed-size big-endian
// layout used when snapshots cross a process boundary.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

const (
	headerSize = 20
	levelSize  = 24

	// flagSynthetic is bit 0 of the flags header byte.
	flagSynthetic byte = 1 << 0

	// OrderBookPayloadSize is the encoded size of every snapshot.
	OrderBookPayloadSize = headerSize + 2*domain.MaxDepth*levelSize
)

// EncodeOrderBook serializes book into dst, growing it when needed. Unused
// level slots are zero-filled.
//
// Layout: symbol u8, flags u8, reserved [2]u8, bid_count u32, ask_count u32,
// timestamp u64, then 20 bids and 20 asks of {price f64, qty f64, ts u64}.
// Real snapshots leave flags zero.
func EncodeOrderBook(dst []byte, book domain.OrderBook) ([]byte, error) {
	id, ok := book.Symbol.ID()
	if !ok {
		return nil, fmt.Errorf("codec: %w: symbol %q has no wire id", domain.ErrValidation, book.Symbol)
	}
	if len(book.Bids) > domain.MaxDepth || len(book.Asks) > domain.MaxDepth {
		return nil, fmt.Errorf("codec: %w: depth %d/%d exceeds %d", domain.ErrValidation, len(book.Bids), len(book.Asks), domain.MaxDepth)
	}

	if cap(dst) < OrderBookPayloadSize {
		dst = make([]byte, OrderBookPayloadSize)
	} else {
		dst = dst[:OrderBookPayloadSize]
		clear(dst)
	}

	dst[0] = id
	if book.Synthetic {
		dst[1] |= flagSynthetic
	}
	binary.BigEndian.PutUint32(dst[4:8], uint32(len(book.Bids)))
	binary.BigEndian.PutUint32(dst[8:12], uint32(len(book.Asks)))
	binary.BigEndian.PutUint64(dst[12:20], book.Timestamp)

	off := headerSize
	for i, lvl := range book.Bids {
		putLevel(dst[off+i*levelSize:], lvl)
	}
	off += domain.MaxDepth * levelSize
	for i, lvl := range book.Asks {
		putLevel(dst[off+i*levelSize:], lvl)
	}
	return dst, nil
}

// DecodeOrderBook parses a payload produced by EncodeOrderBook.
func DecodeOrderBook(src []byte) (domain.OrderBook, error) {
	if len(src) < OrderBookPayloadSize {
		return domain.OrderBook{}, fmt.Errorf("codec: %w: payload %d bytes, want %d", domain.ErrProtocol, len(src), OrderBookPayloadSize)
	}
	sym, ok := domain.SymbolFromID(src[0])
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("codec: %w: unknown symbol id %d", domain.ErrProtocol, src[0])
	}
	bidCount := binary.BigEndian.Uint32(src[4:8])
	askCount := binary.BigEndian.Uint32(src[8:12])
	if bidCount > domain.MaxDepth || askCount > domain.MaxDepth {
		return domain.OrderBook{}, fmt.Errorf("codec: %w: level counts %d/%d", domain.ErrProtocol, bidCount, askCount)
	}

	book := domain.OrderBook{
		Symbol:    sym,
		Timestamp: binary.BigEndian.Uint64(src[12:20]),
		Synthetic: src[1]&flagSynthetic != 0,
		Bids:      make([]domain.PriceLevel, bidCount),
		Asks:      make([]domain.PriceLevel, askCount),
	}
	off := headerSize
	for i := range book.Bids {
		book.Bids[i] = readLevel(src[off+i*levelSize:])
	}
	off += domain.MaxDepth * levelSize
	for i := range book.Asks {
		book.Asks[i] = readLevel(src[off+i*levelSize:])
	}
	return book, nil
}

func putLevel(dst []byte, lvl domain.PriceLevel) {
	binary.BigEndian.PutUint64(dst[0:8], math.Float64bits(lvl.Price))
	binary.BigEndian.PutUint64(dst[8:16], math.Float64bits(lvl.Quantity))
	binary.BigEndian.PutUint64(dst[16:24], lvl.Timestamp)
}

func readLevel(src []byte) domain.PriceLevel {
	return domain.PriceLevel{
		Price:     math.Float64frombits(binary.BigEndian.Uint64(src[0:8])),
		Quantity:  math.Float64frombits(binary.BigEndian.Uint64(src[8:16])),
		Timestamp: binary.BigEndian.Uint64(src[16:24]),
	}
}
