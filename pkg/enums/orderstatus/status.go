package orderstatus

import (
	"strings"
)

// Status is an order fulfillment state.
type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// IsTerminal reports whether no transition can leave the state.
func (s Status) IsTerminal() bool {
	return s == Statuses.Paid || s == Statuses.Cancelled
}

// BeforeDelivery reports whether the order is still in the kitchen/service
// pipeline, where no payment may have been taken yet.
func (s Status) BeforeDelivery() bool {
	switch s {
	case Statuses.Ordered, Statuses.Preparing, Statuses.Ready, Statuses.OrderedOutOfStock:
		return true
	}
	return false
}

type Enum struct {
	Ordered           Status
	Preparing         Status
	Ready             Status
	Delivered         Status
	BillRequested     Status
	PaymentRequested  Status
	Paid              Status
	Cancelled         Status
	OrderedOutOfStock Status
}

var Statuses = Enum{
	Ordered:           Status{Name: "ordered"},
	Preparing:         Status{Name: "preparing"},
	Ready:             Status{Name: "ready"},
	Delivered:         Status{Name: "delivered"},
	BillRequested:     Status{Name: "bill-requested"},
	PaymentRequested:  Status{Name: "payment-requested"},
	Paid:              Status{Name: "paid"},
	Cancelled:         Status{Name: "cancelled"},
	OrderedOutOfStock: Status{Name: "ordered-out-of-stock"},
}

var All = []Status{
	Statuses.Ordered,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Delivered,
	Statuses.BillRequested,
	Statuses.PaymentRequested,
	Statuses.Paid,
	Statuses.Cancelled,
	Statuses.OrderedOutOfStock,
}

// Active lists the non-terminal states, in pipeline order.
var Active = []Status{
	Statuses.Ordered,
	Statuses.OrderedOutOfStock,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Delivered,
	Statuses.BillRequested,
	Statuses.PaymentRequested,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
