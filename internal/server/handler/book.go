package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// BookReader returns the latest snapshot for a symbol.
type BookReader interface {
	Book(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error)
}

// BookHandler serves order book snapshots.
type BookHandler struct {
	books  BookReader
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(books BookReader, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, logger: logger}
}

type bookResponse struct {
	domain.OrderBook
	BestBid  float64 `json:"best_bid"`
	BestAsk  float64 `json:"best_ask"`
	MidPrice float64 `json:"mid_price"`
	Spread   float64 `json:"spread"`
}

// GetBook returns the latest snapshot with derived prices.
// GET /api/books/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	sym, err := domain.ParseSymbol(r.PathValue("symbol"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := h.books.Book(r.Context(), sym)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: get book failed",
				slog.String("symbol", sym.String()),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, bookResponse{
		OrderBook: book,
		BestBid:   book.BestBid(),
		BestAsk:   book.BestAsk(),
		MidPrice:  book.MidPrice(),
		Spread:    book.Spread(),
	})
}
