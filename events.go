package lob

import (
	"sync"
	"time"
)

// EventType classifies order book events.
type EventType string

const (
	EventOpen   EventType = "open"   // an order rested in the book
	EventMatch  EventType = "match"  // a fill between taker and maker
	EventCancel EventType = "cancel" // a resting order was cancelled
)

// BookEvent is an entry in the order book's event stream. SequenceID is
// a per-book monotonically increasing id used for ordering,
// deduplication and rebuild synchronization in downstream consumers;
// TradeID is only set for match events.
type BookEvent struct {
	SequenceID uint64    `json:"seq_id"`
	TradeID    uint64    `json:"trade_id,omitempty"`
	Type       EventType `json:"type"`
	MarketID   string    `json:"market_id"`
	Side       Side      `json:"side"` // taker side for match events
	Price      uint32    `json:"price"`
	Volume     uint64    `json:"volume"`
	OrderID    uint64    `json:"order_id"`
	AgentID    uint64    `json:"agent_id"`

	// Maker fields, only set for match events.
	MakerOrderID uint64 `json:"maker_order_id,omitempty"`
	MakerAgentID uint64 `json:"maker_agent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

var bookEventPool = sync.Pool{
	New: func() interface{} {
		return new(BookEvent)
	},
}

func acquireBookEvent() *BookEvent {
	return bookEventPool.Get().(*BookEvent)
}

func releaseBookEvent(ev *BookEvent) {
	*ev = BookEvent{}
	bookEventPool.Put(ev)
}

// DepthChange is the aggregate-depth delta implied by a single event.
type DepthChange struct {
	Side       Side
	Price      uint32
	VolumeDiff int64
}

// DepthChangeFor computes which side and price level an event moves and
// by how much. For match events the liquidity leaves the maker side, so
// the returned side is the opposite of the event's (taker) side.
func DepthChangeFor(ev *BookEvent) DepthChange {
	switch ev.Type {
	case EventOpen:
		return DepthChange{
			Side:       ev.Side,
			Price:      ev.Price,
			VolumeDiff: int64(ev.Volume),
		}
	case EventCancel:
		return DepthChange{
			Side:       ev.Side,
			Price:      ev.Price,
			VolumeDiff: -int64(ev.Volume),
		}
	case EventMatch:
		return DepthChange{
			Side:       ev.Side.Opposite(),
			Price:      ev.Price,
			VolumeDiff: -int64(ev.Volume),
		}
	}

	return DepthChange{}
}
