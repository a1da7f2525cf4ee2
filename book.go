package lob

import (
	"github.com/shopspring/decimal"

	"github.com/tickcore/lob/structure"
)

// Options configures capacity pre-reservation and display scaling for a
// book and its collaborators. The zero value gets sensible defaults.
type Options struct {
	// OrderCapacity is the order pool pre-reservation hint.
	OrderCapacity int
	// LevelCapacity is the level pool pre-reservation hint.
	LevelCapacity int
	// IndexCapacity is the order-id index pre-reservation hint.
	IndexCapacity int

	// TickSize scales integer tick prices for depth feeds.
	TickSize decimal.Decimal
	// LotSize scales integer share volumes for depth feeds.
	LotSize decimal.Decimal
}

func (o Options) withDefaults() Options {
	if o.OrderCapacity <= 0 {
		o.OrderCapacity = orderSlabSize
	}
	if o.LevelCapacity <= 0 {
		o.LevelCapacity = levelSlabSize
	}
	if o.IndexCapacity <= 0 {
		o.IndexCapacity = o.OrderCapacity
	}
	if o.TickSize.IsZero() {
		o.TickSize = decimal.NewFromInt(1)
	}
	if o.LotSize.IsZero() {
		o.LotSize = decimal.NewFromInt(1)
	}
	return o
}

// Book is the core limit order book: two sorted intrusive level lists
// (buy descending, sell ascending — the heads are the best bid and best
// ask), per-side price maps, an order-id index holding only resting
// orders, slab pools owning all Order and Level storage, and a reusable
// trade buffer.
//
// The book is strictly single-threaded: every call runs to completion,
// and callers are responsible for serialization. It is non-copyable in
// spirit; share the pointer, never the value.
type Book struct {
	bidHead *Level // highest buy price
	askHead *Level // lowest sell price

	bidLevels map[uint32]*Level
	askLevels map[uint32]*Level

	orders *structure.FlatMap[*Order]

	orderPool *slabPool[Order, *Order]
	levelPool *slabPool[Level, *Level]

	// Trade buffer reused across calls; contents are invalidated by the
	// next mutating call.
	trades []Trade
	// Maker agent ids aligned with trades, for event enrichment.
	tradeMakerAgents []uint64
}

// NewBook creates an empty book with pool pre-reservation hints.
func NewBook(opts Options) *Book {
	opts = opts.withDefaults()
	return &Book{
		bidLevels:        make(map[uint32]*Level, opts.LevelCapacity),
		askLevels:        make(map[uint32]*Level, opts.LevelCapacity),
		orders:           structure.NewFlatMap[*Order](opts.IndexCapacity),
		orderPool:        newSlabPool[Order, *Order](orderSlabSize, opts.OrderCapacity),
		levelPool:        newSlabPool[Level, *Level](levelSlabSize, opts.LevelCapacity),
		trades:           make([]Trade, 0, 16),
		tradeMakerAgents: make([]uint64, 0, 16),
	}
}

// PlaceOrder matches a limit order against the opposite side and rests
// any remainder in the book. It returns the trades generated by this
// call, best price first and FIFO within a level.
//
// The returned slice is borrowed: it is valid only until the next call
// to PlaceOrder or CancelOrder. Callers needing the trades beyond that
// window must copy them out.
//
// A zero price or volume is silently ignored: no allocation, no state
// change, empty result.
func (b *Book) PlaceOrder(orderID, agentID uint64, side Side, price uint32, volume uint64) []Trade {
	b.trades = b.trades[:0]
	b.tradeMakerAgents = b.tradeMakerAgents[:0]

	if price == 0 || volume == 0 {
		return b.trades
	}

	incoming := b.orderPool.allocate()
	incoming.ID = orderID
	incoming.AgentID = agentID
	incoming.Side = side
	incoming.Price = price
	incoming.InitialVolume = volume
	incoming.RemainingVolume = volume
	incoming.Status = StatusActive

	if side == Buy {
		for b.askHead != nil && price >= b.askHead.price && incoming.Status != StatusFulfilled {
			if b.matchLevel(incoming, b.askHead) {
				b.removeLevel(Sell, b.askHead)
			}
		}
	} else {
		for b.bidHead != nil && price <= b.bidHead.price && incoming.Status != StatusFulfilled {
			if b.matchLevel(incoming, b.bidHead) {
				b.removeLevel(Buy, b.bidHead)
			}
		}
	}

	if incoming.Status == StatusFulfilled {
		b.orderPool.free(incoming)
		return b.trades
	}

	lvl := b.getOrCreateLevel(side, price)
	lvl.PushBack(incoming)
	b.orders.Set(orderID, incoming)

	return b.trades
}

// matchLevel fills incoming against the level's FIFO queue until one of
// them is exhausted. Fulfilled resting orders are popped, unindexed and
// returned to the pool. Reports whether the level drained.
func (b *Book) matchLevel(incoming *Order, lvl *Level) bool {
	for lvl.head != nil && incoming.Status != StatusFulfilled {
		resting := lvl.head

		fill := resting.RemainingVolume
		if incoming.RemainingVolume < fill {
			fill = incoming.RemainingVolume
		}

		resting.Fill(fill)
		incoming.Fill(fill)
		lvl.DecreaseVolume(fill)

		// Maker-taker pricing: the trade prints at the resting order's
		// limit price.
		b.trades = append(b.trades, Trade{
			TakerOrderID: incoming.ID,
			MakerOrderID: resting.ID,
			Price:        lvl.price,
			Volume:       fill,
		})
		b.tradeMakerAgents = append(b.tradeMakerAgents, resting.AgentID)

		if resting.IsFulfilled() {
			lvl.PopFront()
			b.orders.Delete(resting.ID)
			b.orderPool.free(resting)
		}
	}

	return lvl.IsEmpty()
}

// CancelOrder removes a resting order from the book. Unknown ids are an
// idempotent no-op. Reports whether an active order was removed.
func (b *Book) CancelOrder(orderID uint64) bool {
	order, ok := b.orders.Get(orderID)
	if !ok {
		return false
	}

	if order.Status != StatusActive {
		// Stale index entry: the order already left the book. Drop the
		// entry without touching any level.
		b.orders.Delete(orderID)
		return false
	}

	levels := b.bidLevels
	if order.Side == Sell {
		levels = b.askLevels
	}

	lvl := levels[order.Price]
	lvl.Erase(order)
	if lvl.IsEmpty() {
		b.removeLevel(order.Side, lvl)
	}

	order.Status = StatusDeleted
	b.orders.Delete(orderID)
	b.orderPool.free(order)

	return true
}

// lookup returns the resting order indexed under id.
func (b *Book) lookup(orderID uint64) (*Order, bool) {
	return b.orders.Get(orderID)
}

// getOrCreateLevel finds the level at price on the given side, creating
// and linking a new one if none exists.
func (b *Book) getOrCreateLevel(side Side, price uint32) *Level {
	levels := b.bidLevels
	if side == Sell {
		levels = b.askLevels
	}

	if lvl, ok := levels[price]; ok {
		return lvl
	}

	lvl := b.levelPool.allocate()
	lvl.price = price
	levels[price] = lvl
	b.insertLevel(side, lvl)

	return lvl
}

// insertLevel links a fresh level into its side's sorted list, walking
// from the best price. Linear in the number of distinct levels, which
// stays small in practice; new-level creation is rare next to matches
// at existing levels.
func (b *Book) insertLevel(side Side, lvl *Level) {
	var prev, cur *Level
	if side == Buy {
		cur = b.bidHead
		for cur != nil && cur.price > lvl.price {
			prev, cur = cur, cur.nextLevel
		}
	} else {
		cur = b.askHead
		for cur != nil && cur.price < lvl.price {
			prev, cur = cur, cur.nextLevel
		}
	}

	lvl.prevLevel = prev
	lvl.nextLevel = cur
	if cur != nil {
		cur.prevLevel = lvl
	}
	if prev != nil {
		prev.nextLevel = lvl
	} else if side == Buy {
		b.bidHead = lvl
	} else {
		b.askHead = lvl
	}
}

// removeLevel unlinks an emptied level from its side's sorted list and
// price map and returns it to the pool.
func (b *Book) removeLevel(side Side, lvl *Level) {
	if lvl.prevLevel != nil {
		lvl.prevLevel.nextLevel = lvl.nextLevel
	} else if side == Buy {
		b.bidHead = lvl.nextLevel
	} else {
		b.askHead = lvl.nextLevel
	}
	if lvl.nextLevel != nil {
		lvl.nextLevel.prevLevel = lvl.prevLevel
	}
	lvl.prevLevel = nil
	lvl.nextLevel = nil

	if side == Buy {
		delete(b.bidLevels, lvl.price)
	} else {
		delete(b.askLevels, lvl.price)
	}

	b.levelPool.free(lvl)
}

// BestBid returns the highest resting buy price, 0 if none.
func (b *Book) BestBid() uint32 {
	if b.bidHead == nil {
		return 0
	}
	return b.bidHead.price
}

// BestAsk returns the lowest resting sell price, 0 if none.
func (b *Book) BestAsk() uint32 {
	if b.askHead == nil {
		return 0
	}
	return b.askHead.price
}

// Spread returns best ask minus best bid, 0 if either side is empty.
func (b *Book) Spread() uint32 {
	if b.bidHead == nil || b.askHead == nil {
		return 0
	}
	return b.askHead.price - b.bidHead.price
}

// MidPrice returns the midpoint of the best prices, 0 if either side is
// empty.
func (b *Book) MidPrice() float64 {
	if b.bidHead == nil || b.askHead == nil {
		return 0
	}
	return (float64(b.bidHead.price) + float64(b.askHead.price)) / 2
}

// BuyPrices returns the buy-side prices in descending order.
func (b *Book) BuyPrices() []uint32 {
	return collectPrices(b.bidHead, len(b.bidLevels))
}

// SellPrices returns the sell-side prices in ascending order.
func (b *Book) SellPrices() []uint32 {
	return collectPrices(b.askHead, len(b.askLevels))
}

func collectPrices(head *Level, count int) []uint32 {
	prices := make([]uint32, 0, count)
	for lvl := head; lvl != nil; lvl = lvl.nextLevel {
		if lvl.IsEmpty() {
			continue
		}
		prices = append(prices, lvl.price)
	}
	return prices
}

// BuyLevelCount returns the number of distinct buy price levels.
func (b *Book) BuyLevelCount() int { return len(b.bidLevels) }

// SellLevelCount returns the number of distinct sell price levels.
func (b *Book) SellLevelCount() int { return len(b.askLevels) }

// RestingOrders returns the number of orders resting in the book.
func (b *Book) RestingOrders() int { return b.orders.Len() }

// OrderStatus returns the status of the resting order under id, or
// StatusDeleted when the id is unknown: fulfilled and cancelled orders
// leave the index the moment they leave the book.
func (b *Book) OrderStatus(orderID uint64) OrderStatus {
	order, ok := b.orders.Get(orderID)
	if !ok {
		return StatusDeleted
	}
	return order.Status
}

// eachLevel walks one side's levels best price first until fn returns
// false.
func (b *Book) eachLevel(side Side, fn func(*Level) bool) {
	head := b.bidHead
	if side == Sell {
		head = b.askHead
	}
	for lvl := head; lvl != nil; lvl = lvl.nextLevel {
		if !fn(lvl) {
			return
		}
	}
}
