package models

import (
	"fmt"
	"time"
)

// UnknownPrice marks a variant whose price has never been observed.
const UnknownPrice = -1

// Prices holds one chroner price per variant.
type Prices struct {
	Red   int `json:"red"`
	White int `json:"white"`
	Blue  int `json:"blue"`
}

func UnknownPrices() Prices {
	return Prices{Red: UnknownPrice, White: UnknownPrice, Blue: UnknownPrice}
}

func (p Prices) Get(v Variant) int {
	switch v {
	case Red:
		return p.Red
	case White:
		return p.White
	case Blue:
		return p.Blue
	}
	return UnknownPrice
}

func (p *Prices) Set(v Variant, price int) {
	switch v {
	case Red:
		p.Red = price
	case White:
		p.White = price
	case Blue:
		p.Blue = price
	}
}

// Known reports whether every variant has an observed price.
func (p Prices) Known() bool {
	for _, v := range Variants {
		if p.Get(v) < 0 {
			return false
		}
	}
	return true
}

func (p Prices) String() string {
	return fmt.Sprintf("red=%d white=%d blue=%d", p.Red, p.White, p.Blue)
}

// PriceSample is one immutable row of the price history.
type PriceSample struct {
	ID    int64     `json:"id"`
	Red   int       `json:"red"`
	White int       `json:"white"`
	Blue  int       `json:"blue"`
	Time  time.Time `json:"time"`
}

func (s PriceSample) Prices() Prices {
	return Prices{Red: s.Red, White: s.White, Blue: s.Blue}
}

// DiffersFrom reports whether any variant's price differs from p.
func (s PriceSample) DiffersFrom(p Prices) bool {
	return s.Red != p.Red || s.White != p.White || s.Blue != p.Blue
}
