package intent

import (
	"fmt"
	"strconv"
	"strings"

	"rebanada-bot-backend/internal/catalog"
)

type IntentKind string

const (
	IntentMenu     IntentKind = "menu"
	IntentPromos   IntentKind = "promos"
	IntentDrinks   IntentKind = "drinks"
	IntentPizza    IntentKind = "pizza"
	IntentFallback IntentKind = "fallback"
)

const (
	menuPreviewLimit  = 6
	drinkPreviewLimit = 5
	missingPrice      = "N/A"

	FallbackReply = "¡Hola! Soy el agente de La Pinche Rebanada 🍕. Escribe 'menú', 'promos' o el nombre de una pizza para comenzar."
	NoPromosReply = "Por ahora no tenemos promociones activas."
	NoDrinksReply = "No encuentro bebidas en el menú."
)

// Rule is one entry of the matcher's priority table: Match inspects the
// lowercased text and, on success, Reply renders the answer.
type Rule struct {
	Kind  IntentKind
	Match func(text string, c *catalog.Catalog) bool
	Reply func(text string, c *catalog.Catalog) string
}

// Rules is evaluated top to bottom and the first match wins. A message that
// mentions both "menú" and "promo" is therefore a menu request.
var Rules = []Rule{
	{Kind: IntentMenu, Match: keywords("menú", "menu"), Reply: menuReply},
	{Kind: IntentPromos, Match: keywords("promo", "promoción", "promocion"), Reply: promosReply},
	{Kind: IntentDrinks, Match: keywords("bebida", "refresco", "agua"), Reply: drinksReply},
	{Kind: IntentPizza, Match: func(t string, c *catalog.Catalog) bool { return findPizza(t, c) != nil }, Reply: pizzaReply},
}

// Intent is the outcome of rule matching.
type Intent struct {
	Kind  IntentKind
	Reply string
}

// Match answers text from the catalog without any external call. It is total
// and deterministic; empty text yields the fallback greeting.
func Match(text string, c *catalog.Catalog) string {
	return Detect(text, c).Reply
}

// Detect returns both the matched rule kind and its reply.
func Detect(text string, c *catalog.Catalog) Intent {
	if c == nil {
		c = catalog.Empty()
	}
	t := strings.ToLower(text)
	for _, r := range Rules {
		if r.Match(t, c) {
			return Intent{Kind: r.Kind, Reply: r.Reply(t, c)}
		}
	}
	return Intent{Kind: IntentFallback, Reply: FallbackReply}
}

func keywords(needles ...string) func(string, *catalog.Catalog) bool {
	return func(t string, _ *catalog.Catalog) bool {
		return containsAny(t, needles)
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func menuReply(_ string, c *catalog.Catalog) string {
	pizzas := c.Pizzas
	if len(pizzas) > menuPreviewLimit {
		pizzas = pizzas[:menuPreviewLimit]
	}
	lines := make([]string, 0, len(pizzas))
	for _, p := range pizzas {
		lines = append(lines, "• "+p.Name+priceTail(p))
	}
	return fmt.Sprintf("🍕 Menú rápido (muestra):\n%s\n\nEscribe el nombre de la pizza que te interesa o di \"promos\".", strings.Join(lines, "\n"))
}

func priceTail(p catalog.Pizza) string {
	switch {
	case p.PriceMedium != nil && p.PriceLarge != nil:
		return fmt.Sprintf(" (30cm %s / familiar %s)", money(*p.PriceMedium), money(*p.PriceLarge))
	case p.PriceMedium != nil:
		return fmt.Sprintf(" (30cm %s)", money(*p.PriceMedium))
	case p.PriceLarge != nil:
		return fmt.Sprintf(" (familiar %s)", money(*p.PriceLarge))
	}
	return ""
}

func promosReply(_ string, c *catalog.Catalog) string {
	if len(c.Promos) == 0 {
		return NoPromosReply
	}
	lines := make([]string, 0, len(c.Promos))
	for _, p := range c.Promos {
		lines = append(lines, fmt.Sprintf("• %s - %s", p.Name, money(p.Price)))
	}
	return "🎉 Promos vigentes:\n" + strings.Join(lines, "\n")
}

func drinksReply(_ string, c *catalog.Catalog) string {
	drinks := c.Beverages
	if len(drinks) == 0 {
		return NoDrinksReply
	}
	if len(drinks) > drinkPreviewLimit {
		drinks = drinks[:drinkPreviewLimit]
	}
	lines := make([]string, 0, len(drinks))
	for _, b := range drinks {
		lines = append(lines, fmt.Sprintf("• %s - %s", b.Name, money(b.Price)))
	}
	return "🥤 Bebidas:\n" + strings.Join(lines, "\n")
}

func pizzaReply(t string, c *catalog.Catalog) string {
	p := findPizza(t, c)
	medium, large := missingPrice, missingPrice
	if p.PriceMedium != nil {
		medium = money(*p.PriceMedium)
	}
	if p.PriceLarge != nil {
		large = money(*p.PriceLarge)
	}
	return fmt.Sprintf("🍕 %s\n• 30 cm: %s\n• Familiar: %s\n¿Qué tamaño te gustaría?", p.Name, medium, large)
}

// findPizza returns the first catalog pizza whose significant token appears
// in t.
func findPizza(t string, c *catalog.Catalog) *catalog.Pizza {
	for i := range c.Pizzas {
		tok := significantToken(c.Pizzas[i].Name)
		if tok != "" && strings.Contains(t, tok) {
			return &c.Pizzas[i]
		}
	}
	return nil
}

// significantToken is the lowercased second word of a pizza name ("Pizza
// Hawaiana" -> "hawaiana"). Single-word names use their only word.
func significantToken(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	default:
		return fields[1]
	}
}

func money(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', -1, 64)
}
