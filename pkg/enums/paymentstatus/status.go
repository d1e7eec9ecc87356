package paymentstatus

import "strings"

// Status is the payment side of an order.
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

type Enum struct {
	Unpaid        Status
	PartiallyPaid Status
	FullyPaid     Status
}

var Statuses = Enum{
	Unpaid:        Status{Name: "unpaid"},
	PartiallyPaid: Status{Name: "partially-paid"},
	FullyPaid:     Status{Name: "fully-paid"},
}

var All = []Status{
	Statuses.Unpaid,
	Statuses.PartiallyPaid,
	Statuses.FullyPaid,
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
