package bot

import "strings"

// CatalogItem is something players can buy with their chroner balance.
type CatalogItem struct {
	Name string
	ID   int
	Cost int
	Row  int
	Shop string
}

var catalog = []CatalogItem{
	{"rack of dinosaur ribs", 7582, 25, 312, "caveshop"},
	{"scotch on the rocks", 7583, 25, 313, "caveshop"},
	{"wooly loincloth", 7585, 100, 315, "caveshop"},
	{"yabba dabba doo rag", 7584, 100, 314, "caveshop"},
	{"strange helix fossil", 7586, 300, 311, "caveshop"},
	{"dog ointment", 7687, 25, 316, "shoeshop"},
	{"gumshoes", 7688, 200, 317, "shoeshop"},
	{"flapper floppers", 7689, 400, 318, "shoeshop"},
	{"sneakeasies", 7690, 600, 319, "shoeshop"},
	{"unidentifiable dried fruit", 7827, 25, 354, "applestore"},
	{"flat cider", 7828, 50, 355, "applestore"},
	{"iShield", 7824, 300, 356, "applestore"},
	{"white earbuds", 7825, 600, 357, "applestore"},
	{"iFlail", 7826, 900, 358, "applestore"},
	{"invisible potion", 8146, 10, 690, "nina"},
	{"time shuriken", 8147, 200, 691, "nina"},
	{"ninjammies", 8148, 1000, 692, "nina"},
	{"rotten tomato", 8665, 25, 756, "shakeshop"},
	{"portable Othello set", 8664, 100, 755, "shakeshop"},
	{"Twelve Night Energy", 8666, 250, 757, "shakeshop"},
	{"Yorick", 8667, 1000, 758, "shakeshop"},
	{"Twitching Television Tattoo", 9148, 1111, 895, "conmerch"},
}

// FindItem looks an item up by name, ignoring case.
func FindItem(name string) (CatalogItem, bool) {
	name = strings.TrimSpace(name)
	for _, it := range catalog {
		if strings.EqualFold(it.Name, name) {
			return it, true
		}
	}
	return CatalogItem{}, false
}

// Catalog returns a copy of the purchasable items.
func Catalog() []CatalogItem {
	out := make([]CatalogItem, len(catalog))
	copy(out, catalog)
	return out
}
