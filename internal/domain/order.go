package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderType selects the execution rule of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// TimeInForce controls how long a resting order stays live.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceGTD TimeInForce = "GTD"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:         {OrderSubmitted, OrderCancelled, OrderRejected, OrderExpired},
	OrderSubmitted:       {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected, OrderExpired},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderExpired},
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// Cancellable reports whether cancel is legal from s.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderPending, OrderSubmitted, OrderPartiallyFilled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Fill is one execution against an order.
type Fill struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Fee      decimal.Decimal `json:"fee"`
	At       time.Time       `json:"at"`
}

// Order is a request to trade plus its execution state.
type Order struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id,omitempty"`
	FarmID         string          `json:"farm_id"`
	AgentID        string          `json:"agent_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	ExpiresAt      time.Time       `json:"expires_at,omitempty"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	Fees           decimal.Decimal `json:"fees"`
	Fills          []Fill          `json:"fills,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SubmittedAt    time.Time       `json:"submitted_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FilledAt       time.Time       `json:"filled_at,omitempty"`
}

// Remaining is the quantity still to be filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Transition moves the order to status to, refusing illegal moves.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	if to == OrderSubmitted {
		o.SubmittedAt = at
	}
	return nil
}

// ApplyFill records an execution, updating the VWAP fill price, fees and status.
func (o *Order) ApplyFill(qty, price, fee decimal.Decimal, at time.Time) error {
	if !qty.IsPositive() || qty.GreaterThan(o.Remaining()) {
		return errors.Wrapf(ErrInvalidFill, "fill %s with %s remaining", qty, o.Remaining())
	}

	next := OrderPartiallyFilled
	if qty.Equal(o.Remaining()) {
		next = OrderFilled
	}
	if err := o.Transition(next, at); err != nil {
		return err
	}

	prevNotional := o.AvgFillPrice.Mul(o.FilledQuantity)
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.AvgFillPrice = prevNotional.Add(price.Mul(qty)).Div(o.FilledQuantity)
	o.Fees = o.Fees.Add(fee)
	o.Fills = append(o.Fills, Fill{Quantity: qty, Price: price, Fee: fee, At: at})
	if next == OrderFilled {
		o.FilledAt = at
	}
	return nil
}

// Notional is quantity times the reference price.
func (o *Order) Notional(reference decimal.Decimal) decimal.Decimal {
	return o.Quantity.Mul(reference)
}

// Clone returns a copy that does not share the fills slice.
func (o *Order) Clone() Order {
	out := *o
	out.Fills = append([]Fill(nil), o.Fills...)
	return out
}
