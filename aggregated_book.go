package lob

import (
	"sync/atomic"

	"github.com/igrmk/treemap/v2"
)

// AggregatedBook maintains a simplified view of the order book,
// tracking only price levels and their aggregated volumes (depth). It
// is designed for downstream services that rebuild book state from
// BookEvent streams received out of process.
type AggregatedBook struct {
	seqID atomic.Uint64 // last applied SequenceID, for gaps and dedup
	bid   *treemap.TreeMap[uint32, uint64]
	ask   *treemap.TreeMap[uint32, uint64]
}

// NewAggregatedBook creates an empty aggregated book.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		bid: treemap.New[uint32, uint64](),
		ask: treemap.New[uint32, uint64](),
	}
}

// SequenceID returns the last applied sequence ID.
func (ab *AggregatedBook) SequenceID() uint64 {
	return ab.seqID.Load()
}

// Rebuild resets the aggregated book from a snapshot. Call before
// replaying events newer than the snapshot's sequence ID.
func (ab *AggregatedBook) Rebuild(snap *OrderBookSnapshot) {
	ab.bid.Clear()
	ab.ask.Clear()

	for _, o := range snap.Bids {
		vol, _ := ab.bid.Get(o.Price)
		ab.bid.Set(o.Price, vol+o.RemainingVolume)
	}
	for _, o := range snap.Asks {
		vol, _ := ab.ask.Get(o.Price)
		ab.ask.Set(o.Price, vol+o.RemainingVolume)
	}

	ab.seqID.Store(snap.SeqID)
}

// Replay applies a BookEvent to the aggregated state. Events at or
// below the current sequence ID are deduplicated silently; a gap in the
// sequence returns ErrSequenceGap and leaves the state untouched.
func (ab *AggregatedBook) Replay(ev *BookEvent) error {
	last := ab.seqID.Load()
	if ev.SequenceID <= last {
		return nil
	}
	if ev.SequenceID != last+1 {
		return ErrSequenceGap
	}

	change := DepthChangeFor(ev)
	if change.VolumeDiff != 0 {
		ab.apply(change)
	}

	ab.seqID.Store(ev.SequenceID)
	return nil
}

func (ab *AggregatedBook) apply(change DepthChange) {
	side := ab.bid
	if change.Side == Sell {
		side = ab.ask
	}

	vol, _ := side.Get(change.Price)
	next := int64(vol) + change.VolumeDiff
	if next <= 0 {
		side.Del(change.Price)
		return
	}
	side.Set(change.Price, uint64(next))
}

// Volume returns the aggregated volume at a price level, 0 if the level
// does not exist.
func (ab *AggregatedBook) Volume(side Side, price uint32) uint64 {
	levels := ab.bid
	if side == Sell {
		levels = ab.ask
	}
	vol, _ := levels.Get(price)
	return vol
}

// BestBid returns the highest bid level, false if the bid side is empty.
func (ab *AggregatedBook) BestBid() (uint32, bool) {
	if ab.bid.Len() == 0 {
		return 0, false
	}
	it := ab.bid.Reverse()
	return it.Key(), true
}

// BestAsk returns the lowest ask level, false if the ask side is empty.
func (ab *AggregatedBook) BestAsk() (uint32, bool) {
	if ab.ask.Len() == 0 {
		return 0, false
	}
	it := ab.ask.Iterator()
	return it.Key(), true
}

// LevelCount returns the number of price levels on a side.
func (ab *AggregatedBook) LevelCount(side Side) int {
	if side == Sell {
		return ab.ask.Len()
	}
	return ab.bid.Len()
}

// AggregatedLevel is one price level in the aggregated view.
type AggregatedLevel struct {
	Price  uint32
	Volume uint64
}

// BidLevels returns the bid levels best (highest) price first.
func (ab *AggregatedBook) BidLevels(limit int) []AggregatedLevel {
	levels := make([]AggregatedLevel, 0, limit)
	for it := ab.bid.Reverse(); it.Valid() && len(levels) < limit; it.Next() {
		levels = append(levels, AggregatedLevel{Price: it.Key(), Volume: it.Value()})
	}
	return levels
}

// AskLevels returns the ask levels best (lowest) price first.
func (ab *AggregatedBook) AskLevels(limit int) []AggregatedLevel {
	levels := make([]AggregatedLevel, 0, limit)
	for it := ab.ask.Iterator(); it.Valid() && len(levels) < limit; it.Next() {
		levels = append(levels, AggregatedLevel{Price: it.Key(), Volume: it.Value()})
	}
	return levels
}
