package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidVariant is returned for any value outside the closed variant set.
var ErrInvalidVariant = errors.New("invalid tulip variant")

// Variant is one of the tradable tulip colours. The set is closed: anything
// outside Red, White and Blue is invalid and must never reach a statement.
type Variant int

const (
	Red Variant = iota
	White
	Blue
)

// Variants lists every valid variant in column order.
var Variants = [...]Variant{Red, White, Blue}

// Game item ids.
const (
	ChronerItemID = 7567
	RoseItemID    = 8668
)

// RoseTradeInRow is the flower trade-in shop row that turns roses into chroner.
const RoseTradeInRow = 759

var variantNames = [...]string{"red", "white", "blue"}

var variantItemIDs = [...]int{8670, 8669, 8671}

func (v Variant) Valid() bool {
	return v >= Red && v <= Blue
}

// String returns the lowercase colour name, which is also the ledger column.
func (v Variant) String() string {
	if !v.Valid() {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

// ItemID is the game item id of the tulip.
func (v Variant) ItemID() int {
	if !v.Valid() {
		return 0
	}
	return variantItemIDs[v]
}

// ShopRow is the flower trade-in shop row that buys this tulip for chroner.
func (v Variant) ShopRow() int {
	return 760 + int(v)
}

func ParseVariant(s string) (Variant, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range variantNames {
		if n == name {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidVariant, s)
}

// VariantForItem maps a game item id back to a tulip variant.
func VariantForItem(itemID int) (Variant, bool) {
	for i, id := range variantItemIDs {
		if id == itemID {
			return Variant(i), true
		}
	}
	return 0, false
}
