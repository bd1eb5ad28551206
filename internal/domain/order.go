package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// OrderStatus is the lifecycle state of an order as seen by the inventory engine.
type OrderStatus string

// Order status constants.
const (
	OrderStatusDrafted   OrderStatus = "DRAFTED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPickedUp  OrderStatus = "PICKED_UP"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// ValidStatuses returns all order statuses.
func ValidStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusDrafted,
		OrderStatusConfirmed,
		OrderStatusPickedUp,
		OrderStatusShipped,
		OrderStatusCancelled,
		OrderStatusExpired,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	return slices.Contains(ValidStatuses(), OrderStatus(status))
}

// AllowedTransitions defines which status transitions are valid.
func AllowedTransitions() map[OrderStatus][]OrderStatus {
	return map[OrderStatus][]OrderStatus{
		OrderStatusDrafted:   {OrderStatusConfirmed, OrderStatusCancelled},
		OrderStatusConfirmed: {OrderStatusPickedUp, OrderStatusShipped, OrderStatusCancelled, OrderStatusExpired},
		OrderStatusPickedUp:  {},
		OrderStatusShipped:   {},
		OrderStatusCancelled: {},
		OrderStatusExpired:   {},
	}
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	next, ok := AllowedTransitions()[s]
	return ok && len(next) == 0
}

// Fulfillment selects how a confirmed order leaves the warehouse.
type Fulfillment string

// Fulfillment kinds.
const (
	FulfillmentPickup   Fulfillment = "PICKUP"
	FulfillmentShipment Fulfillment = "SHIPMENT"
)

// TargetStatus maps a fulfillment kind to the order status it produces.
func (f Fulfillment) TargetStatus() (OrderStatus, bool) {
	switch f {
	case FulfillmentPickup:
		return OrderStatusPickedUp, true
	case FulfillmentShipment:
		return OrderStatusShipped, true
	default:
		return "", false
	}
}

// ReservationState is the explicit state of a stock hold.
type ReservationState string

// Reservation states. CONSUMED and RELEASED are terminal.
const (
	ReservationActive   ReservationState = "ACTIVE"
	ReservationConsumed ReservationState = "CONSUMED"
	ReservationReleased ReservationState = "RELEASED"
)

// Reservation is a time-bounded hold on available stock owned by an order.
type Reservation struct {
	ID           string           `json:"id"`
	OrderID      string           `json:"order_id"`
	ProductID    string           `json:"product_id"`
	HeldQuantity decimal.Decimal  `json:"held_quantity"`
	ExpiresAt    time.Time        `json:"expires_at"`
	State        ReservationState `json:"state"`
	CreatedAt    time.Time        `json:"created_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
}

// IsActive returns true if the reservation still holds stock.
func (r *Reservation) IsActive() bool {
	return r.State == ReservationActive
}

// IsExpired reports whether the hold is past its deadline at now.
func (r *Reservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Close moves an active reservation into a terminal state.
func (r *Reservation) Close(state ReservationState, now time.Time) error {
	if !r.IsActive() {
		return fmt.Errorf("reservation %s is already %s", r.ID, r.State)
	}
	if state == ReservationActive {
		return fmt.Errorf("reservation %s: %s is not a terminal state", r.ID, state)
	}
	r.State = state
	r.ClosedAt = &now
	return nil
}

// OrderLine is one requested product quantity.
type OrderLine struct {
	ProductID string          `json:"product_id" validate:"required,max=128"`
	Quantity  decimal.Decimal `json:"quantity" validate:"dpos"`
}

// Order is the aggregate that owns reservations.
type Order struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id"`
	Status       OrderStatus   `json:"status"`
	Lines        []OrderLine   `json:"lines"`
	Reservations []Reservation `json:"reservations"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
}

// NewOrder returns a DRAFTED order.
func NewOrder(tenantID, orderID string, lines []OrderLine, now time.Time) *Order {
	return &Order{
		ID:        orderID,
		TenantID:  tenantID,
		Status:    OrderStatusDrafted,
		Lines:     slices.Clone(lines),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransitionTo checks if the order can move to the given status.
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	return slices.Contains(AllowedTransitions()[o.Status], newStatus)
}

// TransitionTo moves the order to newStatus and stamps the lifecycle times.
func (o *Order) TransitionTo(newStatus OrderStatus, now time.Time) error {
	if !o.CanTransitionTo(newStatus) {
		return InvalidStateTransition(o.ID, o.Status, newStatus)
	}
	o.Status = newStatus
	o.UpdatedAt = now
	switch {
	case newStatus == OrderStatusConfirmed:
		o.ConfirmedAt = &now
	case newStatus.IsTerminal():
		o.ClosedAt = &now
	}
	return nil
}

// ActiveReservations returns pointers to the reservations still holding stock.
func (o *Order) ActiveReservations() []*Reservation {
	var out []*Reservation
	for i := range o.Reservations {
		if o.Reservations[i].IsActive() {
			out = append(out, &o.Reservations[i])
		}
	}
	return out
}

// IsOverdue reports whether a confirmed order holds a reservation past its deadline.
func (o *Order) IsOverdue(now time.Time) bool {
	if o.Status != OrderStatusConfirmed {
		return false
	}
	for _, r := range o.ActiveReservations() {
		if r.IsExpired(now) {
			return true
		}
	}
	return false
}

// ProductIDs returns the distinct products held by active reservations, sorted.
func (o *Order) ProductIDs() []string {
	var ids []string
	for _, r := range o.ActiveReservations() {
		ids = append(ids, r.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = slices.Clone(o.Lines)
	c.Reservations = slices.Clone(o.Reservations)
	return &c
}

// ValidateLines rejects empty orders and non-positive quantities.
func ValidateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return apperrors.InvalidInput("order must have at least one line")
	}
	for i, l := range lines {
		if l.ProductID == "" {
			return apperrors.InvalidInput(fmt.Sprintf("line %d: product_id is required", i))
		}
		if !l.Quantity.IsPositive() {
			return InvalidQuantity("line %d: quantity for product %s must be positive, got %s", i, l.ProductID, l.Quantity)
		}
	}
	return nil
}

// MergeLines sums quantities per product and returns them sorted by product
// id. Stock rows are locked in this order.
func MergeLines(lines []OrderLine) []OrderLine {
	totals := make(map[string]decimal.Decimal, len(lines))
	for _, l := range lines {
		totals[l.ProductID] = totals[l.ProductID].Add(l.Quantity)
	}
	merged := make([]OrderLine, 0, len(totals))
	for id, q := range totals {
		merged = append(merged, OrderLine{ProductID: id, Quantity: q})
	}
	slices.SortFunc(merged, func(a, b OrderLine) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return merged
}
