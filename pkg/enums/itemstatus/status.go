package itemstatus

import "strings"

// Status is the sub-state of a single line item, advanced by station staff.
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

// IsTerminal reports whether the item left the station pipeline.
func (s Status) IsTerminal() bool {
	return s == Statuses.Delivered || s == Statuses.Cancelled
}

// Outstanding reports whether the item still needs stock to be produced.
func (s Status) Outstanding() bool {
	return s == Statuses.Inserted || s == Statuses.InProgress
}

type Enum struct {
	Inserted   Status
	InProgress Status
	Ready      Status
	Delivered  Status
	Cancelled  Status
}

var Statuses = Enum{
	Inserted:   Status{Name: "inserted"},
	InProgress: Status{Name: "in-progress"},
	Ready:      Status{Name: "ready"},
	Delivered:  Status{Name: "delivered"},
	Cancelled:  Status{Name: "cancelled"},
}

var All = []Status{
	Statuses.Inserted,
	Statuses.InProgress,
	Statuses.Ready,
	Statuses.Delivered,
	Statuses.Cancelled,
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
