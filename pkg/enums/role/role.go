package role

import "strings"

// Role is the kind of staff member operating a terminal.
type Role struct {
	Name string
}

func (r Role) Code() string {
	return r.Name
}

func (r Role) Label() string {
	if len(r.Name) == 0 {
		return ""
	}
	return strings.ToUpper(r.Name[:1]) + r.Name[1:]
}

type Enum struct {
	Waiter    Role
	Cook      Role
	Bartender Role
	Cashier   Role
	Manager   Role
}

var Roles = Enum{
	Waiter:    Role{Name: "waiter"},
	Cook:      Role{Name: "cook"},
	Bartender: Role{Name: "bartender"},
	Cashier:   Role{Name: "cashier"},
	Manager:   Role{Name: "manager"},
}

var All = []Role{
	Roles.Waiter,
	Roles.Cook,
	Roles.Bartender,
	Roles.Cashier,
	Roles.Manager,
}

// ByName returns the role for a given name, or nil if not found
func ByName(name string) *Role {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range All {
		if r.Name == name {
			return &r
		}
	}
	return nil
}
