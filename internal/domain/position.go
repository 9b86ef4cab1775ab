package domain

import "time"

// Side is the direction of a position's exposure.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SideFromBool maps the wire-level is_long flag onto a Side.
func SideFromBool(isLong bool) Side {
	if isLong {
		return SideLong
	}
	return SideShort
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is one leveraged exposure held by the ledger. Amounts and prices
// are integers in the asset's smallest unit.
type Position struct {
	ID         uint64         `json:"id"`
	Trader     string         `json:"trader"`
	Margin     int64          `json:"margin"`
	Leverage   int64          `json:"leverage"`
	Size       int64          `json:"size"`
	Side       Side           `json:"side"`
	EntryPrice int64          `json:"entry_price"`
	OpenTime   time.Time      `json:"open_time"`
	Status     PositionStatus `json:"status"`

	// Populated only once the position is closed.
	ClosePrice  *int64     `json:"close_price,omitempty"`
	CloseTime   *time.Time `json:"close_time,omitempty"`
	RealizedPnL *int64     `json:"realized_pnl,omitempty"`
}

// IsOpen reports whether the position can still be closed.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// IsLong reports whether the position profits from rising prices.
func (p Position) IsLong() bool {
	return p.Side == SideLong
}
