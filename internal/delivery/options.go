package delivery

import "strings"

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a wire name to a tier; unknown names are normal.
func ParsePriority(name string) Priority {
	switch strings.ToLower(name) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Target selects terminals by station and/or role. A terminal matches when
// either its station or its role is listed.
type Target struct {
	Stations []string
	Roles    []string
}

func (t Target) Empty() bool {
	return len(t.Stations) == 0 && len(t.Roles) == 0
}

type Options struct {
	Broadcast      bool
	Target         Target
	SkipRateLimit  bool
	QueueIfOffline bool
	Priority       Priority
	AckRequired    bool
}

// Broadcast returns options reaching every terminal.
func Broadcast(p Priority) Options {
	return Options{Broadcast: true, Priority: p}
}

// Targeted returns options for the given stations and roles.
func Targeted(p Priority, stations []string, roles []string) Options {
	return Options{Target: Target{Stations: stations, Roles: roles}, Priority: p}
}

// Event is what callers hand to Emit. ID may be preset to make several
// emissions collapse into one on the receiving side.
type Event struct {
	ID      string
	Name    string
	Payload any
}

// Terminal is a connected staff device.
type Terminal struct {
	ID      string `json:"id"`
	Station string `json:"station,omitempty"`
	Role    string `json:"role,omitempty"`
}

func (t Terminal) Matches(opts Options) bool {
	if opts.Broadcast || opts.Target.Empty() {
		return true
	}
	for _, s := range opts.Target.Stations {
		if s != "" && strings.EqualFold(s, t.Station) {
			return true
		}
	}
	for _, r := range opts.Target.Roles {
		if r != "" && strings.EqualFold(r, t.Role) {
			return true
		}
	}
	return false
}
