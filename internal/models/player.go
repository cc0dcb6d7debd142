package models

// Player is one depositor's ledger row. Rows are never deleted.
type Player struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	SellAt  int    `json:"sellAt" db:"sell_at"`
	Red     int    `json:"red" db:"red"`
	White   int    `json:"white" db:"white"`
	Blue    int    `json:"blue" db:"blue"`
	Chroner int    `json:"chroner" db:"chroner"`
}

func (p Player) Holding(v Variant) int {
	switch v {
	case Red:
		return p.Red
	case White:
		return p.White
	case Blue:
		return p.Blue
	}
	return 0
}

func (p Player) HasTulips() bool {
	return p.Red+p.White+p.Blue > 0
}

// Deposit is a credit to a player's holdings and balance.
type Deposit struct {
	PlayerID   int64
	PlayerName string
	Red        int
	White      int
	Blue       int
	Chroner    int
}

func (d Deposit) Empty() bool {
	return d.Red == 0 && d.White == 0 && d.Blue == 0 && d.Chroner == 0
}

// Totals are ledger-wide sums used for reconciliation.
type Totals struct {
	Red     int `db:"red"`
	White   int `db:"white"`
	Blue    int `db:"blue"`
	Chroner int `db:"chroner"`
}

func (t Totals) Holding(v Variant) int {
	switch v {
	case Red:
		return t.Red
	case White:
		return t.White
	case Blue:
		return t.Blue
	}
	return 0
}
