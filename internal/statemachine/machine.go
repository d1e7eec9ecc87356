// Package statemachine validates and applies transitions of the
// (fulfillment, payment) pair of an order. It is pure: no I/O, no shared
// state, safe to call from any goroutine.
package statemachine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInconsistent      = errors.New("inconsistent order state")
	ErrUnknownEvent      = errors.New("unknown event")
)

type Event string

const (
	EventStartPreparation Event = "START_PREPARATION"
	EventMarkReady        Event = "MARK_READY"
	EventDeliver          Event = "DELIVER"
	EventRequestBill      Event = "REQUEST_BILL"
	EventRequestPayment   Event = "REQUEST_PAYMENT"
	EventPay              Event = "PAY"
	EventPartialPay       Event = "PARTIAL_PAY"
	EventCancel           Event = "CANCEL"
	EventMarkOutOfStock   Event = "MARK_OUT_OF_STOCK"
	EventResumeOrdered    Event = "RESUME_ORDERED"
)

var events = []Event{
	EventStartPreparation,
	EventMarkReady,
	EventDeliver,
	EventRequestBill,
	EventRequestPayment,
	EventPay,
	EventPartialPay,
	EventCancel,
	EventMarkOutOfStock,
	EventResumeOrdered,
}

// ParseEvent accepts the wire name of an event, case-insensitively.
func ParseEvent(name string) (Event, error) {
	upper := Event(strings.ToUpper(strings.TrimSpace(name)))
	for _, ev := range events {
		if ev == upper {
			return ev, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// State is the pair the machine operates on.
type State struct {
	Fulfillment orderstatus.Status
	Payment     paymentstatus.Status
}

func (s State) String() string {
	return s.Fulfillment.Code() + "/" + s.Payment.Code()
}

// Initial is the pair every new order starts in.
func Initial() State {
	return State{Fulfillment: orderstatus.Statuses.Ordered, Payment: paymentstatus.Statuses.Unpaid}
}

// ParseState maps stored codes to a State. Unknown codes are reported as
// ErrInconsistent since they can only come from corrupted data.
func ParseState(fulfillment, payment string) (State, error) {
	f := orderstatus.ByName(fulfillment)
	if f == nil {
		return State{}, fmt.Errorf("%w: unknown fulfillment status %q", ErrInconsistent, fulfillment)
	}
	p := paymentstatus.ByName(payment)
	if p == nil {
		return State{}, fmt.Errorf("%w: unknown payment status %q", ErrInconsistent, payment)
	}
	return State{Fulfillment: *f, Payment: *p}, nil
}

var (
	fs = orderstatus.Statuses
	ps = paymentstatus.Statuses
)

// fulfillment is the complete transition table. Anything not listed is invalid.
var fulfillment = map[orderstatus.Status]map[Event]orderstatus.Status{
	fs.Ordered: {
		EventStartPreparation: fs.Preparing,
		EventCancel:           fs.Cancelled,
		EventMarkOutOfStock:   fs.OrderedOutOfStock,
	},
	fs.Preparing: {
		EventMarkReady:      fs.Ready,
		EventCancel:         fs.Cancelled,
		EventMarkOutOfStock: fs.OrderedOutOfStock,
	},
	fs.Ready: {
		EventDeliver: fs.Delivered,
		EventCancel:  fs.Cancelled,
	},
	fs.Delivered: {
		EventRequestBill:    fs.BillRequested,
		EventRequestPayment: fs.PaymentRequested,
		EventPay:            fs.Paid,
		EventPartialPay:     fs.Delivered,
	},
	fs.BillRequested: {
		EventPay:        fs.Paid,
		EventPartialPay: fs.BillRequested,
	},
	fs.PaymentRequested: {
		EventPay:        fs.Paid,
		EventPartialPay: fs.PaymentRequested,
	},
	fs.OrderedOutOfStock: {
		EventStartPreparation: fs.Preparing,
		EventResumeOrdered:    fs.Ordered,
		EventCancel:           fs.Cancelled,
	},
	fs.Paid:      {},
	fs.Cancelled: {},
}

// paymentEffect lists the events that move the payment sub-machine.
var paymentEffect = map[Event]paymentstatus.Status{
	EventPay:        ps.FullyPaid,
	EventPartialPay: ps.PartiallyPaid,
}

var payment = map[paymentstatus.Status][]paymentstatus.Status{
	ps.Unpaid:        {ps.FullyPaid, ps.PartiallyPaid},
	ps.PartiallyPaid: {ps.FullyPaid, ps.PartiallyPaid},
	ps.FullyPaid:     {},
}

// CanTransition reports whether the fulfillment table accepts ev from current.
func CanTransition(current orderstatus.Status, ev Event) bool {
	_, ok := fulfillment[current][ev]
	return ok
}

// CanPay reports whether the payment sub-machine accepts the move.
func CanPay(current, next paymentstatus.Status) bool {
	for _, allowed := range payment[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Step is the immutable record of one applied transition.
type Step struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}

// Undo returns the pair the step started from.
func (s Step) Undo() State {
	return s.From
}

// Changed reports whether the transition moved either half of the pair.
func (s Step) Changed() bool {
	return s.From != s.To
}

// Transition validates ev against current and returns the resulting step.
// On error current is to be kept as is; the machine never coerces to a
// nearby valid state.
func Transition(current State, ev Event) (Step, error) {
	if err := IsConsistent(current); err != nil {
		return Step{}, err
	}

	next, ok := fulfillment[current.Fulfillment][ev]
	if !ok {
		if current.Fulfillment.IsTerminal() {
			return Step{}, fmt.Errorf("%w: %s is terminal, cannot apply %s", ErrInvalidTransition, current.Fulfillment.Code(), ev)
		}
		return Step{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, current.Fulfillment.Code())
	}

	pay := current.Payment
	if target, moves := paymentEffect[ev]; moves {
		if !CanPay(current.Payment, target) {
			return Step{}, fmt.Errorf("%w: payment %s to %s", ErrInvalidTransition, current.Payment.Code(), target.Code())
		}
		pay = target
	}

	to := State{Fulfillment: next, Payment: pay}
	if err := IsConsistent(to); err != nil {
		return Step{}, fmt.Errorf("%w: %s would produce %s", ErrInvalidTransition, ev, to)
	}

	return Step{From: current, To: to, Event: ev, At: time.Now()}, nil
}

// IsConsistent re-validates the pair invariants:
// Paid if and only if FullyPaid, and nothing paid before delivery.
func IsConsistent(s State) error {
	if orderstatus.ByName(s.Fulfillment.Code()) == nil {
		return fmt.Errorf("%w: unknown fulfillment status %q", ErrInconsistent, s.Fulfillment.Code())
	}
	if paymentstatus.ByName(s.Payment.Code()) == nil {
		return fmt.Errorf("%w: unknown payment status %q", ErrInconsistent, s.Payment.Code())
	}

	paid := s.Fulfillment == fs.Paid
	fullyPaid := s.Payment == ps.FullyPaid
	if paid != fullyPaid {
		return fmt.Errorf("%w: %s", ErrInconsistent, s)
	}

	if (s.Fulfillment.BeforeDelivery() || s.Fulfillment == fs.Cancelled) && s.Payment != ps.Unpaid {
		return fmt.Errorf("%w: %s must be unpaid", ErrInconsistent, s)
	}

	return nil
}
