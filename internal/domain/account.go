package domain

// Balance is one asset line of an exchange account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Account is the signed account snapshot returned by the exchange.
type Account struct {
	CanTrade bool      `json:"can_trade"`
	Balances []Balance `json:"balances"`
}

// Free returns the free balance of asset, 0 when absent.
func (a Account) Free(asset string) float64 {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b.Free
		}
	}
	return 0
}

// OrderRequest is what the executor asks the exchange to place. A zero
// Price means a market order.
type OrderRequest struct {
	Symbol   Symbol
	Side     OrderSide
	Price    float64
	Quantity float64
}

// Type returns LIMIT for priced requests and MARKET otherwise.
func (r OrderRequest) Type() OrderType {
	if r.Price > 0 {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// ExchangeOrder is the exchange's view of an order after place/cancel/query.
type ExchangeOrder struct {
	ID           uint64
	Symbol       Symbol
	Status       OrderStatus
	ExecutedQty  float64
	AveragePrice float64
	RawStatus    string
}
