// Package flights holds the flights the dapp offers for insurance.
package flights

import "strings"

type Flight struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var all = []Flight{
	{ID: 0, Name: "JJ3720"},
	{ID: 1, Name: "JJ4732"},
	{ID: 2, Name: "AD2626"},
	{ID: 3, Name: "AD2413"},
	{ID: 4, Name: "AD2950"},
	{ID: 5, Name: "G35638"},
	{ID: 6, Name: "AD4120"},
}

// All returns the flight list. The result is a copy.
func All() []Flight {
	return append([]Flight(nil), all...)
}

// Lookup finds a flight by name, ignoring case.
func Lookup(name string) (Flight, bool) {
	for _, f := range all {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Flight{}, false
}
