package lob

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkBookInvariants walks the whole book and verifies its structural
// invariants: per-level volume and count accounting, strict sort order
// of both level lists, symmetric FIFO chains, non-crossed best prices,
// and index consistency.
func checkBookInvariants(t *testing.T, b *Book) {
	t.Helper()

	indexed := 0

	sides := []struct {
		side Side
		head *Level
	}{
		{Buy, b.bidHead},
		{Sell, b.askHead},
	}

	for _, s := range sides {
		var prevLevel *Level
		for lvl := s.head; lvl != nil; lvl = lvl.nextLevel {
			require.False(t, lvl.IsEmpty(), "empty level %d reachable from %v list", lvl.price, s.side)

			if prevLevel != nil {
				if s.side == Buy {
					require.Greater(t, prevLevel.price, lvl.price, "buy list not strictly descending")
				} else {
					require.Less(t, prevLevel.price, lvl.price, "sell list not strictly ascending")
				}
			}
			require.True(t, lvl.prevLevel == prevLevel, "broken prevLevel link at %d", lvl.price)

			levels := b.bidLevels
			if s.side == Sell {
				levels = b.askLevels
			}
			mapped, ok := levels[lvl.price]
			require.True(t, ok, "level %d missing from price map", lvl.price)
			require.Same(t, lvl, mapped)

			// Forward walk: count, volume, link symmetry, index entries.
			count := 0
			var volume uint64
			var prevOrder *Order
			for o := lvl.head; o != nil; o = o.next {
				count++
				volume += o.RemainingVolume
				require.Equal(t, StatusActive, o.Status)
				require.Greater(t, o.RemainingVolume, uint64(0))
				require.Equal(t, lvl.price, o.Price)
				require.Equal(t, s.side, o.Side)
				require.True(t, o.prev == prevOrder, "broken prev link at order %d", o.ID)

				idxOrder, ok := b.orders.Get(o.ID)
				require.True(t, ok, "resting order %d not indexed", o.ID)
				require.Same(t, o, idxOrder)
				indexed++

				if o.next == nil {
					require.Same(t, lvl.tail, o, "tail mismatch at level %d", lvl.price)
				}
				prevOrder = o
			}

			require.Equal(t, lvl.orderCount, count)
			require.Equal(t, lvl.totalVolume, volume)

			prevLevel = lvl
		}
	}

	require.Equal(t, b.orders.Len(), indexed, "index holds entries for non-resting orders")

	if b.bidHead != nil && b.askHead != nil {
		require.Less(t, b.bidHead.price, b.askHead.price, "book is crossed")
	}
}

func totalRestingVolume(b *Book) uint64 {
	var total uint64
	for _, head := range []*Level{b.bidHead, b.askHead} {
		for lvl := head; lvl != nil; lvl = lvl.nextLevel {
			total += lvl.totalVolume
		}
	}
	return total
}

func TestPlaceOrderNoMatch(t *testing.T) {
	b := NewBook(Options{})

	trades := b.PlaceOrder(1, 1, Buy, 100, 50)

	assert.Empty(t, trades)
	assert.Equal(t, uint32(100), b.BestBid())
	assert.Equal(t, uint32(0), b.BestAsk())
	assert.Equal(t, 1, b.BuyLevelCount())
	assert.Equal(t, 0, b.SellLevelCount())
	assert.Equal(t, 1, b.RestingOrders())
	assert.Equal(t, StatusActive, b.OrderStatus(1))
	checkBookInvariants(t, b)
}

func TestPlaceOrderInvalidInput(t *testing.T) {
	b := NewBook(Options{})
	b.PlaceOrder(1, 1, Buy, 100, 50)

	trades := b.PlaceOrder(2, 1, Buy, 0, 50)
	assert.Empty(t, trades)
	trades = b.PlaceOrder(3, 1, Sell, 100, 0)
	assert.Empty(t, trades)

	assert.Equal(t, 1, b.RestingOrders())
	assert.Equal(t, StatusDeleted, b.OrderStatus(2))
	assert.Equal(t, StatusDeleted, b.OrderStatus(3))
	assert.Equal(t, 0, b.orderPool.size()-b.RestingOrders(), "invalid input leaked a pool slot")
	checkBookInvariants(t, b)
}

func TestFullMatchTakerFillsMaker(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Sell, 100, 30)
	trades := b.PlaceOrder(2, 2, Buy, 100, 50)

	require.Len(t, trades, 1)
	assert.Equal(t, Trade{TakerOrderID: 2, MakerOrderID: 1, Price: 100, Volume: 30}, trades[0])

	assert.Equal(t, 0, b.SellLevelCount())
	assert.Equal(t, 1, b.BuyLevelCount())
	assert.Equal(t, uint32(100), b.BestBid())

	rem, ok := b.lookup(2)
	require.True(t, ok)
	assert.Equal(t, uint64(20), rem.RemainingVolume)

	assert.Equal(t, StatusDeleted, b.OrderStatus(1))
	assert.Equal(t, StatusActive, b.OrderStatus(2))
	checkBookInvariants(t, b)
}

func TestFIFOAcrossMakersAtOnePrice(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Buy, 100, 10)
	b.PlaceOrder(2, 1, Buy, 100, 20)
	b.PlaceOrder(3, 1, Buy, 100, 30)

	trades := b.PlaceOrder(4, 2, Sell, 100, 60)

	require.Len(t, trades, 3)
	assert.Equal(t, Trade{TakerOrderID: 4, MakerOrderID: 1, Price: 100, Volume: 10}, trades[0])
	assert.Equal(t, Trade{TakerOrderID: 4, MakerOrderID: 2, Price: 100, Volume: 20}, trades[1])
	assert.Equal(t, Trade{TakerOrderID: 4, MakerOrderID: 3, Price: 100, Volume: 30}, trades[2])

	assert.Equal(t, 0, b.BuyLevelCount())
	assert.Equal(t, 0, b.SellLevelCount())
	assert.Equal(t, 0, b.RestingOrders())
	for id := uint64(1); id <= 4; id++ {
		assert.Equal(t, StatusDeleted, b.OrderStatus(id))
	}
	checkBookInvariants(t, b)
}

func TestPartialTakerEatsPartialMaker(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Buy, 100, 10)
	b.PlaceOrder(2, 1, Buy, 100, 20)

	trades := b.PlaceOrder(3, 2, Sell, 100, 25)

	require.Len(t, trades, 2)
	assert.Equal(t, Trade{TakerOrderID: 3, MakerOrderID: 1, Price: 100, Volume: 10}, trades[0])
	assert.Equal(t, Trade{TakerOrderID: 3, MakerOrderID: 2, Price: 100, Volume: 15}, trades[1])

	assert.Equal(t, StatusDeleted, b.OrderStatus(1))
	assert.Equal(t, StatusActive, b.OrderStatus(2))
	assert.Equal(t, StatusDeleted, b.OrderStatus(3))

	o2, ok := b.lookup(2)
	require.True(t, ok)
	assert.Equal(t, uint64(5), o2.RemainingVolume)
	checkBookInvariants(t, b)
}

func TestCancelUnlocksNextBest(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Buy, 100, 10)
	b.PlaceOrder(2, 1, Buy, 110, 10)
	assert.Equal(t, uint32(110), b.BestBid())

	b.CancelOrder(2)
	assert.Equal(t, uint32(100), b.BestBid())
	assert.Equal(t, StatusDeleted, b.OrderStatus(2))
	checkBookInvariants(t, b)

	trades := b.PlaceOrder(3, 2, Sell, 100, 10)
	require.Len(t, trades, 1)
	assert.Equal(t, Trade{TakerOrderID: 3, MakerOrderID: 1, Price: 100, Volume: 10}, trades[0])
	assert.Equal(t, 0, b.BuyLevelCount())
	assert.Equal(t, 0, b.SellLevelCount())
	checkBookInvariants(t, b)
}

func TestPoolReuseSteadyState(t *testing.T) {
	b := NewBook(Options{})

	var peakOrderCap, peakLevelCap int
	for cycle := 0; cycle < 20; cycle++ {
		id := uint64(cycle * 1000)
		for i := uint64(0); i < 100; i++ {
			b.PlaceOrder(id+i, 1, Buy, uint32(90+i%20), 10)
		}
		for i := uint64(0); i < 100; i++ {
			b.PlaceOrder(id+500+i, 2, Sell, uint32(90+i%20), 10)
		}
		for i := uint64(0); i < 100; i++ {
			b.CancelOrder(id + i)
			b.CancelOrder(id + 500 + i)
		}

		require.Equal(t, 0, b.RestingOrders(), "cycle %d left residuals", cycle)
		require.Equal(t, 0, b.BuyLevelCount())
		require.Equal(t, 0, b.SellLevelCount())

		if cycle == 0 {
			peakOrderCap = b.orderPool.capacity()
			peakLevelCap = b.levelPool.capacity()
		} else {
			require.Equal(t, peakOrderCap, b.orderPool.capacity(), "order pool grew across cycles")
			require.Equal(t, peakLevelCap, b.levelPool.capacity(), "level pool grew across cycles")
		}
	}

	assert.Equal(t, 0, b.orderPool.size())
	assert.Equal(t, 0, b.levelPool.size())
}

func TestMatchingWalksPriceLevelsBestFirst(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Sell, 105, 10)
	b.PlaceOrder(2, 1, Sell, 101, 10)
	b.PlaceOrder(3, 1, Sell, 103, 10)

	trades := b.PlaceOrder(4, 2, Buy, 104, 25)

	require.Len(t, trades, 2)
	assert.Equal(t, Trade{TakerOrderID: 4, MakerOrderID: 2, Price: 101, Volume: 10}, trades[0])
	assert.Equal(t, Trade{TakerOrderID: 4, MakerOrderID: 3, Price: 103, Volume: 10}, trades[1])

	// Remainder rests at 104; 105 is not crossed.
	assert.Equal(t, uint32(104), b.BestBid())
	assert.Equal(t, uint32(105), b.BestAsk())
	assert.Equal(t, uint32(1), b.Spread())
	assert.Equal(t, 104.5, b.MidPrice())
	checkBookInvariants(t, b)
}

func TestObservabilityAccessors(t *testing.T) {
	b := NewBook(Options{})

	assert.Equal(t, uint32(0), b.BestBid())
	assert.Equal(t, uint32(0), b.BestAsk())
	assert.Equal(t, uint32(0), b.Spread())
	assert.Equal(t, float64(0), b.MidPrice())
	assert.Empty(t, b.BuyPrices())
	assert.Empty(t, b.SellPrices())

	b.PlaceOrder(1, 1, Buy, 98, 10)
	b.PlaceOrder(2, 1, Buy, 100, 10)
	b.PlaceOrder(3, 1, Buy, 99, 10)
	b.PlaceOrder(4, 1, Sell, 103, 10)
	b.PlaceOrder(5, 1, Sell, 101, 10)
	b.PlaceOrder(6, 1, Sell, 102, 10)

	assert.Equal(t, []uint32{100, 99, 98}, b.BuyPrices())
	assert.Equal(t, []uint32{101, 102, 103}, b.SellPrices())
	assert.Equal(t, uint32(1), b.Spread())
	assert.Equal(t, 100.5, b.MidPrice())
	assert.Equal(t, 3, b.BuyLevelCount())
	assert.Equal(t, 3, b.SellLevelCount())
	assert.Equal(t, 6, b.RestingOrders())
	checkBookInvariants(t, b)
}

func TestCancelIdempotent(t *testing.T) {
	b := NewBook(Options{})
	b.PlaceOrder(1, 1, Buy, 100, 10)

	assert.True(t, b.CancelOrder(1))
	assert.False(t, b.CancelOrder(1))
	assert.False(t, b.CancelOrder(1))
	assert.False(t, b.CancelOrder(999))

	assert.Equal(t, StatusDeleted, b.OrderStatus(1))
	assert.Equal(t, 0, b.RestingOrders())
	checkBookInvariants(t, b)
}

func TestOrderIDReuseAfterExit(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Buy, 100, 10)
	b.CancelOrder(1)

	// Re-use of an id is allowed once the prior instance left the book.
	trades := b.PlaceOrder(1, 1, Buy, 105, 20)
	assert.Empty(t, trades)
	assert.Equal(t, StatusActive, b.OrderStatus(1))
	assert.Equal(t, uint32(105), b.BestBid())
	checkBookInvariants(t, b)
}

func TestTradeBufferReusedAcrossCalls(t *testing.T) {
	b := NewBook(Options{})

	b.PlaceOrder(1, 1, Sell, 100, 10)
	first := b.PlaceOrder(2, 2, Buy, 100, 10)
	require.Len(t, first, 1)

	// The next mutating call invalidates the previous result: the
	// buffer's backing storage is reused.
	second := b.PlaceOrder(3, 1, Buy, 90, 5)
	assert.Empty(t, second)

	b.PlaceOrder(4, 2, Sell, 90, 5)
	assert.Equal(t, Trade{TakerOrderID: 4, MakerOrderID: 3, Price: 90, Volume: 5}, first[0])
}

func TestConservationOfVolume(t *testing.T) {
	b := NewBook(Options{})
	rng := rand.New(rand.NewSource(7))

	var nextID uint64 = 1
	live := make([]uint64, 0, 1024)

	for i := 0; i < 5000; i++ {
		if rng.Intn(10) < 7 || len(live) == 0 {
			side := Buy
			if rng.Intn(2) == 1 {
				side = Sell
			}
			price := uint32(95 + rng.Intn(11))
			volume := uint64(1 + rng.Intn(100))

			before := totalRestingVolume(b)
			trades := b.PlaceOrder(nextID, uint64(rng.Intn(5)), side, price, volume)
			after := totalRestingVolume(b)

			var matched uint64
			for _, tr := range trades {
				matched += tr.Volume
			}
			// After + 2*matched = before + incoming: each fill removes
			// the matched volume from both the book and the incoming
			// order.
			require.Equal(t, before+volume, after+2*matched, "volume not conserved at step %d", i)

			if b.OrderStatus(nextID) == StatusActive {
				live = append(live, nextID)
			}
			nextID++
		} else {
			pick := rng.Intn(len(live))
			b.CancelOrder(live[pick])
			live = append(live[:pick], live[pick+1:]...)
		}

		if i%500 == 0 {
			checkBookInvariants(t, b)
		}
	}

	checkBookInvariants(t, b)
}

func TestDeterminism(t *testing.T) {
	type op struct {
		cancel bool
		id     uint64
		side   Side
		price  uint32
		volume uint64
	}

	rng := rand.New(rand.NewSource(99))
	ops := make([]op, 0, 4000)
	for i := 0; i < 4000; i++ {
		if rng.Intn(5) == 0 {
			ops = append(ops, op{cancel: true, id: uint64(rng.Intn(i + 1))})
			continue
		}
		side := Buy
		if rng.Intn(2) == 1 {
			side = Sell
		}
		ops = append(ops, op{
			id:     uint64(i + 1),
			side:   side,
			price:  uint32(90 + rng.Intn(21)),
			volume: uint64(1 + rng.Intn(50)),
		})
	}

	run := func() (*Book, []Trade) {
		b := NewBook(Options{})
		all := make([]Trade, 0, 4096)
		for _, o := range ops {
			if o.cancel {
				b.CancelOrder(o.id)
				continue
			}
			all = append(all, b.PlaceOrder(o.id, o.id%7, o.side, o.price, o.volume)...)
		}
		return b, all
	}

	bookA, tradesA := run()
	bookB, tradesB := run()

	assert.Equal(t, tradesA, tradesB)
	assert.Equal(t, bookA.BestBid(), bookB.BestBid())
	assert.Equal(t, bookA.BestAsk(), bookB.BestAsk())
	assert.Equal(t, bookA.BuyPrices(), bookB.BuyPrices())
	assert.Equal(t, bookA.SellPrices(), bookB.SellPrices())
	assert.Equal(t, bookA.RestingOrders(), bookB.RestingOrders())
	checkBookInvariants(t, bookA)
	checkBookInvariants(t, bookB)
}
