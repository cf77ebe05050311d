package stream

import "math/big"

// LedgerStats 聚合了支付流的统计信息，常用于仪表盘或健康检查。
// 金额字段是筛选范围内所有流的合计值。
type LedgerStats struct {
	Total           int      `json:"total"`
	Active          int      `json:"active"`
	Cancelled       int      `json:"cancelled"`
	Expired         int      `json:"expired"`
	EscrowBalance   *big.Int `json:"escrow_balance"`
	TotalDeposited  *big.Int `json:"total_deposited"`
	TotalWithdrawn  *big.Int `json:"total_withdrawn"`
	TotalRefunded   *big.Int `json:"total_refunded"`
	OldestUpdatedAt int64    `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64    `json:"newest_updated_at,omitempty"`
}

func newLedgerStats() LedgerStats {
	return LedgerStats{
		EscrowBalance:  new(big.Int),
		TotalDeposited: new(big.Int),
		TotalWithdrawn: new(big.Int),
		TotalRefunded:  new(big.Int),
	}
}
