package lob

import "github.com/shopspring/decimal"

// DepthItem is one aggregated price level in a depth snapshot, scaled to
// display units via the book's tick and lot size.
type DepthItem struct {
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	OrderCount int             `json:"order_count"`
}

// Depth is a bounded snapshot of the order book's aggregated levels.
// Bids are ordered best (highest) first, asks best (lowest) first.
type Depth struct {
	UpdateID uint64       `json:"update_id"`
	Bids     []*DepthItem `json:"bids"`
	Asks     []*DepthItem `json:"asks"`
}

// depthSide aggregates up to limit levels from one side, best first.
func (b *Book) depthSide(side Side, limit uint32, tickSize, lotSize decimal.Decimal) []*DepthItem {
	items := make([]*DepthItem, 0, limit)
	b.eachLevel(side, func(lvl *Level) bool {
		if uint32(len(items)) >= limit {
			return false
		}
		items = append(items, &DepthItem{
			Price:      tickSize.Mul(decimal.NewFromInt(int64(lvl.price))),
			Volume:     lotSize.Mul(decimal.NewFromUint64(lvl.totalVolume)),
			OrderCount: lvl.orderCount,
		})
		return true
	})
	return items
}
