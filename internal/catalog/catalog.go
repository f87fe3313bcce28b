package catalog

import "strings"

// Pizza is a menu pizza with optional size variants.
type Pizza struct {
	Name        string   `json:"nombre" yaml:"nombre"`
	PriceMedium *float64 `json:"precio_30cm,omitempty" yaml:"precio_30cm,omitempty"`
	PriceLarge  *float64 `json:"precio_familiar,omitempty" yaml:"precio_familiar,omitempty"`
}

// Promo is a priced promotion.
type Promo struct {
	Name  string  `json:"nombre" yaml:"nombre"`
	Price float64 `json:"precio" yaml:"precio"`
}

// Beverage is a priced drink.
type Beverage struct {
	Name  string  `json:"nombre" yaml:"nombre"`
	Price float64 `json:"precio" yaml:"precio"`
}

// Catalog is the menu shared read-only by the responders. A loaded Catalog is
// never mutated; reloads swap in a new value.
type Catalog struct {
	Pizzas    []Pizza    `json:"pizzas" yaml:"pizzas"`
	Promos    []Promo    `json:"promos" yaml:"promos"`
	Beverages []Beverage `json:"bebidas" yaml:"bebidas"`
}

// Empty returns a catalog with no items in any category.
func Empty() *Catalog {
	return &Catalog{Pizzas: []Pizza{}, Promos: []Promo{}, Beverages: []Beverage{}}
}

// IsEmpty reports whether all three categories are empty.
func (c *Catalog) IsEmpty() bool {
	return c == nil || (len(c.Pizzas) == 0 && len(c.Promos) == 0 && len(c.Beverages) == 0)
}

// Problem describes an item dropped by Sanitize.
type Problem struct {
	Category string
	Index    int
	Reason   string
}

// Sanitize returns a copy of c holding only items with a non-empty name and
// non-negative prices, together with the problems found.
func Sanitize(c *Catalog) (*Catalog, []Problem) {
	out := Empty()
	if c == nil {
		return out, nil
	}
	var problems []Problem
	for i, p := range c.Pizzas {
		switch {
		case strings.TrimSpace(p.Name) == "":
			problems = append(problems, Problem{Category: "pizzas", Index: i, Reason: "empty name"})
		case negative(p.PriceMedium) || negative(p.PriceLarge):
			problems = append(problems, Problem{Category: "pizzas", Index: i, Reason: "negative price"})
		default:
			out.Pizzas = append(out.Pizzas, p)
		}
	}
	for i, p := range c.Promos {
		switch {
		case strings.TrimSpace(p.Name) == "":
			problems = append(problems, Problem{Category: "promos", Index: i, Reason: "empty name"})
		case p.Price < 0:
			problems = append(problems, Problem{Category: "promos", Index: i, Reason: "negative price"})
		default:
			out.Promos = append(out.Promos, p)
		}
	}
	for i, b := range c.Beverages {
		switch {
		case strings.TrimSpace(b.Name) == "":
			problems = append(problems, Problem{Category: "bebidas", Index: i, Reason: "empty name"})
		case b.Price < 0:
			problems = append(problems, Problem{Category: "bebidas", Index: i, Reason: "negative price"})
		default:
			out.Beverages = append(out.Beverages, b)
		}
	}
	return out, problems
}

func negative(p *float64) bool {
	return p != nil && *p < 0
}

// Price returns a pointer to v, for building catalogs in code.
func Price(v float64) *float64 {
	return &v
}
