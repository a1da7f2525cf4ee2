package lob

// OrderSnapshot is the serializable state of a single resting order.
type OrderSnapshot struct {
	ID              uint64 `json:"id"`
	AgentID         uint64 `json:"agent_id"`
	Side            Side   `json:"side"`
	Price           uint32 `json:"price"`
	InitialVolume   uint64 `json:"initial_volume"`
	RemainingVolume uint64 `json:"remaining_volume"`
}

// OrderBookSnapshot contains the full resting state of a single
// OrderBook. Bids and asks are ordered best price first and FIFO within
// a level, so restoring them in order preserves time priority.
type OrderBookSnapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	SchemaVersion int             `json:"schema_version"`
	MarketID      string          `json:"market_id"`
	SeqID         uint64          `json:"seq_id"`          // current BookEvent sequence ID
	LastCmdSeqID  uint64          `json:"last_cmd_seq_id"` // last processed command sequence ID
	TradeID       uint64          `json:"trade_id"`        // current trade sequence ID
	CreatedAt     int64           `json:"created_at"`      // Unix nano
	Bids          []OrderSnapshot `json:"bids"`
	Asks          []OrderSnapshot `json:"asks"`
}

// snapshotSide serializes one side of the book, price-major and FIFO
// within each level.
func (b *Book) snapshotSide(side Side) []OrderSnapshot {
	orders := make([]OrderSnapshot, 0, b.orders.Len())
	b.eachLevel(side, func(lvl *Level) bool {
		for o := lvl.head; o != nil; o = o.next {
			orders = append(orders, OrderSnapshot{
				ID:              o.ID,
				AgentID:         o.AgentID,
				Side:            o.Side,
				Price:           o.Price,
				InitialVolume:   o.InitialVolume,
				RemainingVolume: o.RemainingVolume,
			})
		}
		return true
	})
	return orders
}

// restoreOrder re-inserts a snapshotted order without matching. Orders
// must be restored in snapshot order to preserve FIFO priority.
func (b *Book) restoreOrder(snap OrderSnapshot) {
	order := b.orderPool.allocate()
	order.ID = snap.ID
	order.AgentID = snap.AgentID
	order.Side = snap.Side
	order.Price = snap.Price
	order.InitialVolume = snap.InitialVolume
	order.RemainingVolume = snap.RemainingVolume
	order.Status = StatusActive

	lvl := b.getOrCreateLevel(snap.Side, snap.Price)
	lvl.PushBack(order)
	b.orders.Set(order.ID, order)
}
