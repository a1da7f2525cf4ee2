package lob

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// PlaceOrderCommand is the input command for placing a limit order.
type PlaceOrderCommand struct {
	MarketID string `json:"market_id"`
	OrderID  uint64 `json:"order_id"`
	AgentID  uint64 `json:"agent_id"`
	Side     Side   `json:"side"`
	Price    uint32 `json:"price"`
	Volume   uint64 `json:"volume"`
}

// commandType represents the type of command sent to the order book.
type commandType int

const (
	cmdPlaceOrder commandType = iota
	cmdCancelOrder
	cmdDepth
	cmdGetStats
	cmdSnapshot
)

// command is a unified command sent to the order book loop. A single
// channel keeps command ordering deterministic.
type command struct {
	seqID   uint64
	typ     commandType
	payload any
	resp    chan any // optional, for synchronous queries
}

// BookStats contains usage statistics about the order book.
type BookStats struct {
	BidLevelCount     int
	AskLevelCount     int
	RestingOrders     int
	OrderPoolSize     int
	OrderPoolCapacity int
	LevelPoolSize     int
	LevelPoolCapacity int
}

// OrderBook runs a core Book behind a single-goroutine command loop.
// All mutations happen on that goroutine, which preserves the core's
// single-threaded contract while giving callers a concurrent-safe,
// deterministically ordered front end. Events generated by matching are
// published to the configured EventSink.
type OrderBook struct {
	marketID   string
	instanceID string

	seqID        atomic.Uint64 // BookEvent sequence counter
	lastCmdSeqID atomic.Uint64 // last processed command sequence ID
	tradeID      atomic.Uint64 // trade counter, incremented per match event
	isShutdown   atomic.Bool

	book     *Book
	tickSize decimal.Decimal
	lotSize  decimal.Decimal

	cmdChan          chan command
	done             chan struct{}
	shutdownComplete chan struct{}
	sink             EventSink
}

// NewOrderBook creates a new order book for one instrument. The zero
// Options value applies defaults.
func NewOrderBook(marketID string, sink EventSink, opts Options) *OrderBook {
	opts = opts.withDefaults()
	return &OrderBook{
		marketID:         marketID,
		instanceID:       xid.New().String(),
		book:             NewBook(opts),
		tickSize:         opts.TickSize,
		lotSize:          opts.LotSize,
		cmdChan:          make(chan command, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		sink:             sink,
	}
}

// MarketID returns the instrument this book trades.
func (ob *OrderBook) MarketID() string { return ob.marketID }

// PlaceOrder submits an order to the order book asynchronously.
// Returns ErrShutdown if the order book is shutting down.
func (ob *OrderBook) PlaceOrder(ctx context.Context, cmd *PlaceOrderCommand) error {
	if ob.isShutdown.Load() {
		return ErrShutdown
	}

	if cmd.OrderID == 0 || (cmd.Side != Buy && cmd.Side != Sell) {
		return ErrInvalidParam
	}

	select {
	case ob.cmdChan <- command{typ: cmdPlaceOrder, payload: cmd}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// CancelOrder submits a cancellation request asynchronously. Unknown
// ids are an idempotent no-op once processed.
func (ob *OrderBook) CancelOrder(ctx context.Context, orderID uint64) error {
	if ob.isShutdown.Load() {
		return ErrShutdown
	}

	if orderID == 0 {
		return nil
	}

	select {
	case ob.cmdChan <- command{typ: cmdCancelOrder, payload: orderID}:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Depth returns the current aggregated depth up to limit levels per
// side, scaled by the configured tick and lot size.
func (ob *OrderBook) Depth(limit uint32) (*Depth, error) {
	if limit == 0 {
		return nil, ErrInvalidParam
	}

	respChan := make(chan any, 1)

	select {
	case ob.cmdChan <- command{typ: cmdDepth, payload: limit, resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if depth, ok := res.(*Depth); ok {
			return depth, nil
		}
		return nil, ErrInternal
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Stats returns usage statistics for the order book.
func (ob *OrderBook) Stats() (*BookStats, error) {
	respChan := make(chan any, 1)

	select {
	case ob.cmdChan <- command{typ: cmdGetStats, resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if stats, ok := res.(*BookStats); ok {
			return stats, nil
		}
		return nil, ErrInternal
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// TakeSnapshot captures the current resting state of the order book.
func (ob *OrderBook) TakeSnapshot() (*OrderBookSnapshot, error) {
	respChan := make(chan any, 1)

	select {
	case ob.cmdChan <- command{typ: cmdSnapshot, resp: respChan}:
	case <-ob.done:
		return nil, ErrOrderBookClosed
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if snap, ok := res.(*OrderBookSnapshot); ok {
			return snap, nil
		}
		return nil, ErrInternal
	case <-time.After(5 * time.Second):
		return nil, ErrTimeout
	}
}

// Restore rebuilds the order book state from a snapshot. It must be
// called before Start, never on a running book.
func (ob *OrderBook) Restore(snap *OrderBookSnapshot) {
	ob.seqID.Store(snap.SeqID)
	ob.lastCmdSeqID.Store(snap.LastCmdSeqID)
	ob.tradeID.Store(snap.TradeID)

	for _, o := range snap.Bids {
		ob.book.restoreOrder(o)
	}
	for _, o := range snap.Asks {
		ob.book.restoreOrder(o)
	}
}

// LastCmdSeqID returns the sequence ID of the last processed command
// that carried one, used by snapshot recovery to know where to resume.
// Commands enqueued through this book's methods carry no sequence ID,
// so the value only changes through Restore (0 otherwise).
func (ob *OrderBook) LastCmdSeqID() uint64 {
	return ob.lastCmdSeqID.Load()
}

// Start runs the order book loop, processing orders, cancellations and
// queries. It returns nil after Shutdown has drained pending commands.
func (ob *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger.Info("order book started",
		"market_id", ob.marketID,
		"instance_id", ob.instanceID,
		"engine_version", EngineVersion)

	for {
		select {
		case <-ob.done:
			return ob.drain()
		case cmd := <-ob.cmdChan:
			ob.dispatch(cmd)
			if cmd.seqID > 0 {
				ob.lastCmdSeqID.Store(cmd.seqID)
			}
		}
	}
}

// Shutdown stops accepting new commands and waits until pending ones
// are drained or the context expires.
func (ob *OrderBook) Shutdown(ctx context.Context) error {
	if ob.isShutdown.CompareAndSwap(false, true) {
		close(ob.done)
	}

	select {
	case <-ob.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining mutating commands before returning.
func (ob *OrderBook) drain() error {
	defer close(ob.shutdownComplete)

	for {
		select {
		case cmd := <-ob.cmdChan:
			switch cmd.typ {
			case cmdPlaceOrder, cmdCancelOrder:
				ob.dispatch(cmd)
			case cmdDepth, cmdGetStats, cmdSnapshot:
				// Read-only commands, no-op during drain.
			}
		default:
			logger.Info("order book drained", "market_id", ob.marketID, "instance_id", ob.instanceID)
			return nil
		}
	}
}

func (ob *OrderBook) dispatch(cmd command) {
	switch cmd.typ {
	case cmdPlaceOrder:
		if placeCmd, ok := cmd.payload.(*PlaceOrderCommand); ok {
			ob.handlePlaceOrder(placeCmd)
		}
	case cmdCancelOrder:
		if orderID, ok := cmd.payload.(uint64); ok {
			ob.handleCancelOrder(orderID)
		}
	case cmdDepth:
		if limit, ok := cmd.payload.(uint32); ok {
			depth := &Depth{
				UpdateID: ob.seqID.Load(),
				Bids:     ob.book.depthSide(Buy, limit, ob.tickSize, ob.lotSize),
				Asks:     ob.book.depthSide(Sell, limit, ob.tickSize, ob.lotSize),
			}
			respond(cmd.resp, depth)
		}
	case cmdGetStats:
		respond(cmd.resp, &BookStats{
			BidLevelCount:     ob.book.BuyLevelCount(),
			AskLevelCount:     ob.book.SellLevelCount(),
			RestingOrders:     ob.book.RestingOrders(),
			OrderPoolSize:     ob.book.orderPool.size(),
			OrderPoolCapacity: ob.book.orderPool.capacity(),
			LevelPoolSize:     ob.book.levelPool.size(),
			LevelPoolCapacity: ob.book.levelPool.capacity(),
		})
	case cmdSnapshot:
		respond(cmd.resp, ob.createSnapshot())
	}
}

// respond sends non-blockingly; if no one is listening the result is
// dropped.
func respond(resp chan any, result any) {
	if resp == nil {
		return
	}
	select {
	case resp <- result:
	default:
	}
}

// handlePlaceOrder runs the core matching and publishes the resulting
// match events, followed by an open event when a remainder rests.
func (ob *OrderBook) handlePlaceOrder(cmd *PlaceOrderCommand) {
	trades := ob.book.PlaceOrder(cmd.OrderID, cmd.AgentID, cmd.Side, cmd.Price, cmd.Volume)

	now := time.Now().UTC()
	events := make([]*BookEvent, 0, len(trades)+1)

	var filled uint64
	for i := range trades {
		t := &trades[i]
		filled += t.Volume

		ev := acquireBookEvent()
		ev.SequenceID = ob.seqID.Add(1)
		ev.TradeID = ob.tradeID.Add(1)
		ev.Type = EventMatch
		ev.MarketID = ob.marketID
		ev.Side = cmd.Side
		ev.Price = t.Price
		ev.Volume = t.Volume
		ev.OrderID = t.TakerOrderID
		ev.AgentID = cmd.AgentID
		ev.MakerOrderID = t.MakerOrderID
		ev.MakerAgentID = ob.book.tradeMakerAgents[i]
		ev.CreatedAt = now
		events = append(events, ev)
	}

	if ob.book.OrderStatus(cmd.OrderID) == StatusActive && cmd.Volume > filled {
		ev := acquireBookEvent()
		ev.SequenceID = ob.seqID.Add(1)
		ev.Type = EventOpen
		ev.MarketID = ob.marketID
		ev.Side = cmd.Side
		ev.Price = cmd.Price
		ev.Volume = cmd.Volume - filled
		ev.OrderID = cmd.OrderID
		ev.AgentID = cmd.AgentID
		ev.CreatedAt = now
		events = append(events, ev)
	}

	if len(events) > 0 {
		ob.sink.Publish(events...)
		for _, ev := range events {
			releaseBookEvent(ev)
		}
	}
}

// handleCancelOrder cancels a resting order and publishes a cancel
// event when one was actually removed.
func (ob *OrderBook) handleCancelOrder(orderID uint64) {
	order, ok := ob.book.lookup(orderID)
	if !ok {
		return
	}

	// Captured before the cancel frees the order back to the pool.
	side := order.Side
	price := order.Price
	volume := order.RemainingVolume
	agentID := order.AgentID

	if !ob.book.CancelOrder(orderID) {
		return
	}

	ev := acquireBookEvent()
	ev.SequenceID = ob.seqID.Add(1)
	ev.Type = EventCancel
	ev.MarketID = ob.marketID
	ev.Side = side
	ev.Price = price
	ev.Volume = volume
	ev.OrderID = orderID
	ev.AgentID = agentID
	ev.CreatedAt = time.Now().UTC()

	ob.sink.Publish(ev)
	releaseBookEvent(ev)
}

// createSnapshot is called on the order book loop, so it is consistent
// with respect to command processing.
func (ob *OrderBook) createSnapshot() *OrderBookSnapshot {
	return &OrderBookSnapshot{
		SnapshotID:    xid.New().String(),
		SchemaVersion: SnapshotSchemaVersion,
		MarketID:      ob.marketID,
		SeqID:         ob.seqID.Load(),
		LastCmdSeqID:  ob.lastCmdSeqID.Load(),
		TradeID:       ob.tradeID.Load(),
		CreatedAt:     time.Now().UnixNano(),
		Bids:          ob.book.snapshotSide(Buy),
		Asks:          ob.book.snapshotSide(Sell),
	}
}
