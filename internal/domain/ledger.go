package domain

// LedgerState is the singleton record holding the ledger's global fields:
// the admin identity, the oracle reference, the id counter, the aggregate
// custody balance and the pause flag.
type LedgerState struct {
	Admin          string `json:"admin"`
	OracleAddress  string `json:"oracle_address"`
	NextPositionID uint64 `json:"next_position_id"`
	Balance        int64  `json:"balance"`
	Active         bool   `json:"is_active"`
}

// Stats is the public summary returned by get_stats.
type Stats struct {
	Balance        int64  `json:"balance"`
	NextPositionID uint64 `json:"next_id"`
	Active         bool   `json:"is_active"`
}

// CloseResult is what a successful close reports back to the caller. Payout
// is not always Margin+PnL: it is floored at the posted margin.
type CloseResult struct {
	PositionID uint64 `json:"position_id"`
	PnL        int64  `json:"pnl"`
	Payout     int64  `json:"payout"`
	ClosePrice int64  `json:"close_price"`
}
