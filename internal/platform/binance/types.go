package binance

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// depthResponse is the payload of GET /api/v3/depth and of the partial
// depth websocket stream.
type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// streamEnvelope wraps payloads delivered on combined stream endpoints.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type accountResponse struct {
	CanTrade bool `json:"canTrade"`
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Price               string `json:"price"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// APIError is an error payload returned by the exchange ({"code":..,"msg":..}).
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// Unwrap classifies the error into the domain taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case -1002, -1021, -1022, -2014, -2015:
		return domain.ErrAuth
	case -2011, -2013:
		return domain.ErrNotFound
	case -1003, -1015:
		return domain.ErrRateLimited
	}
	switch {
	case e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden:
		return domain.ErrAuth
	case e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus == http.StatusTeapot:
		return domain.ErrRateLimited
	case e.HTTPStatus == http.StatusNotFound:
		return domain.ErrNotFound
	case e.HTTPStatus >= 500:
		return domain.ErrConnectivity
	}
	return domain.ErrValidation
}

// parseNumber converts an exchange decimal string.
func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q: %v", domain.ErrProtocol, s, err)
	}
	return d.InexactFloat64(), nil
}

// parseLevels converts [[price, qty], ...] into at most MaxDepth levels.
func parseLevels(raw [][]string, ts uint64) ([]domain.PriceLevel, error) {
	n := len(raw)
	if n > domain.MaxDepth {
		n = domain.MaxDepth
	}
	out := make([]domain.PriceLevel, 0, n)
	for _, pair := range raw[:n] {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: level has %d fields", domain.ErrProtocol, len(pair))
		}
		price, err := parseNumber(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseNumber(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty, Timestamp: ts})
	}
	return out, nil
}

func (d depthResponse) toBook(sym domain.Symbol, ts uint64) (domain.OrderBook, error) {
	bids, err := parseLevels(d.Bids, ts)
	if err != nil {
		return domain.OrderBook{}, err
	}
	asks, err := parseLevels(d.Asks, ts)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{Symbol: sym, Bids: bids, Asks: asks, Timestamp: ts}, nil
}

func (a accountResponse) toDomain() (domain.Account, error) {
	out := domain.Account{CanTrade: a.CanTrade, Balances: make([]domain.Balance, 0, len(a.Balances))}
	for _, b := range a.Balances {
		free, err := parseNumber(b.Free)
		if err != nil {
			return domain.Account{}, err
		}
		locked, err := parseNumber(b.Locked)
		if err != nil {
			return domain.Account{}, err
		}
		out.Balances = append(out.Balances, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// orderStatus maps the exchange's order status vocabulary.
func orderStatus(raw string) domain.OrderStatus {
	switch raw {
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

func (o orderResponse) toDomain(sym domain.Symbol) (domain.ExchangeOrder, error) {
	if o.OrderID <= 0 {
		return domain.ExchangeOrder{}, fmt.Errorf("%w: response has no order id", domain.ErrProtocol)
	}
	executed, err := parseNumber(o.ExecutedQty)
	if err != nil {
		return domain.ExchangeOrder{}, err
	}
	quote, err := parseNumber(o.CummulativeQuoteQty)
	if err != nil {
		return domain.ExchangeOrder{}, err
	}

	var avg float64
	switch {
	case executed > 0 && quote > 0:
		avg = quote / executed
	case len(o.Fills) > 0:
		var qty, notional decimal.Decimal
		for _, f := range o.Fills {
			p, perr := decimal.NewFromString(f.Price)
			q, qerr := decimal.NewFromString(f.Qty)
			if perr != nil || qerr != nil {
				return domain.ExchangeOrder{}, fmt.Errorf("%w: malformed fill", domain.ErrProtocol)
			}
			qty = qty.Add(q)
			notional = notional.Add(p.Mul(q))
		}
		if qty.IsPositive() {
			avg = notional.Div(qty).InexactFloat64()
		}
	}

	return domain.ExchangeOrder{
		ID:           uint64(o.OrderID),
		Symbol:       sym,
		Status:       orderStatus(o.Status),
		ExecutedQty:  executed,
		AveragePrice: avg,
		RawStatus:    o.Status,
	}, nil
}
