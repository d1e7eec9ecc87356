package station

import "strings"

// Station is the queue a line item is routed to.
type Station struct {
	Name string
}

func (s Station) Code() string {
	return s.Name
}

func (s Station) Label() string {
	if len(s.Name) == 0 {
		return ""
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

type Enum struct {
	Kitchen Station
	Bar     Station
	Dessert Station
	Coffee  Station
	Cashier Station
	Floor   Station
}

var Stations = Enum{
	Kitchen: Station{Name: "kitchen"},
	Bar:     Station{Name: "bar"},
	Dessert: Station{Name: "dessert"},
	Coffee:  Station{Name: "coffee"},
	Cashier: Station{Name: "cashier"},
	Floor:   Station{Name: "floor"},
}

var All = []Station{
	Stations.Kitchen,
	Stations.Bar,
	Stations.Dessert,
	Stations.Coffee,
	Stations.Cashier,
	Stations.Floor,
}

// Production lists stations that prepare items. Cashier and floor terminals
// only observe orders.
var Production = []Station{
	Stations.Kitchen,
	Stations.Bar,
	Stations.Dessert,
	Stations.Coffee,
}

// ByName returns the station for a given name, or nil if not found.
// Lookup is case-insensitive; terminals send whatever the device was set up with.
func ByName(name string) *Station {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}
