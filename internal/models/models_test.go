package models

import "testing"

func TestParseVariant(t *testing.T) {
	cases := map[string]Variant{"red": Red, "White": White, " BLUE ": Blue}
	for in, want := range cases {
		got, err := ParseVariant(in)
		if err != nil {
			t.Fatalf("ParseVariant(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseVariant(%q) = %v, want %v", in, got, want)
		}
	}

	for _, bad := range []string{"", "rose", "red; DROP TABLE players", "chroner"} {
		if _, err := ParseVariant(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestVariantMappings(t *testing.T) {
	if Red.ShopRow() != 760 || White.ShopRow() != 761 || Blue.ShopRow() != 762 {
		t.Fatalf("unexpected shop rows: %d %d %d", Red.ShopRow(), White.ShopRow(), Blue.ShopRow())
	}
	if Red.ItemID() != 8670 || White.ItemID() != 8669 || Blue.ItemID() != 8671 {
		t.Fatal("unexpected item ids")
	}
	for _, v := range Variants {
		back, ok := VariantForItem(v.ItemID())
		if !ok || back != v {
			t.Fatalf("VariantForItem(%d) = %v, %v", v.ItemID(), back, ok)
		}
	}
	if _, ok := VariantForItem(RoseItemID); ok {
		t.Fatal("rose is not a tulip variant")
	}
	if Variant(7).Valid() || Variant(-1).Valid() {
		t.Fatal("out of range variants must be invalid")
	}
}

func TestPrices(t *testing.T) {
	p := UnknownPrices()
	if p.Known() {
		t.Fatal("sentinel prices must not be known")
	}
	p.Set(Red, 25)
	p.Set(White, 0)
	if p.Known() {
		t.Fatal("blue is still unknown")
	}
	p.Set(Blue, 10)
	if !p.Known() {
		t.Fatal("all variants observed, including a zero price")
	}
	if p.Get(Red) != 25 || p.Get(White) != 0 || p.Get(Blue) != 10 {
		t.Fatalf("unexpected prices: %s", p)
	}

	s := PriceSample{Red: 25, White: 0, Blue: 10}
	if s.DiffersFrom(p) {
		t.Fatal("identical sample reported as different")
	}
	p.Set(Blue, 11)
	if !s.DiffersFrom(p) {
		t.Fatal("a single changed variant must count as a difference")
	}
}
