package lob

// Order is a limit order, either matching against the book (transient)
// or resting in it. While resting it is reachable from exactly one
// Level's FIFO queue through the intrusive prev/next links and from the
// book's id index. Storage is owned by the book's order pool; an Order
// must not be retained after it leaves the book.
type Order struct {
	ID              uint64      `json:"id"`
	AgentID         uint64      `json:"agent_id"`
	Side            Side        `json:"side"`
	Price           uint32      `json:"price"`
	InitialVolume   uint64      `json:"initial_volume"`
	RemainingVolume uint64      `json:"remaining_volume"`
	Status          OrderStatus `json:"status"`

	// Intrusive FIFO links within the containing level (ignored by JSON).
	prev *Order
	next *Order

	// Free-list link; only meaningful while the slot is pooled.
	nextFree *Order
}

// Fill reduces the remaining volume by v. The order becomes fulfilled
// when the remaining volume reaches zero.
func (o *Order) Fill(v uint64) {
	if debugChecks && v > o.RemainingVolume {
		panic("lob: fill volume exceeds remaining volume")
	}
	o.RemainingVolume -= v
	if o.RemainingVolume == 0 {
		o.Status = StatusFulfilled
	}
}

// IsFulfilled reports whether the order has no remaining volume.
func (o *Order) IsFulfilled() bool {
	return o.RemainingVolume == 0
}

// Next returns the next order in the level's FIFO queue, nil at the tail.
func (o *Order) Next() *Order { return o.next }

// Prev returns the previous order in the level's FIFO queue, nil at the head.
func (o *Order) Prev() *Order { return o.prev }

func (o *Order) nextFreeSlot() *Order     { return o.nextFree }
func (o *Order) setNextFreeSlot(n *Order) { o.nextFree = n }
