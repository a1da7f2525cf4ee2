package lob

import (
	"context"
	"sync"
	"sync/atomic"
)

// MatchingEngine manages one OrderBook per market. Scaling across
// instruments is achieved by sharding: every book runs its own loop and
// never shares state with another.
type MatchingEngine struct {
	isShutdown atomic.Bool
	orderbooks sync.Map // marketID -> *OrderBook
	sink       EventSink
	opts       Options
}

// NewMatchingEngine creates a new matching engine instance. All books
// created by the engine publish to the given sink and share the same
// capacity options.
func NewMatchingEngine(sink EventSink, opts Options) *MatchingEngine {
	return &MatchingEngine{
		sink: sink,
		opts: opts.withDefaults(),
	}
}

// OrderBook returns the book for marketID, creating and starting one on
// first use.
func (engine *MatchingEngine) OrderBook(marketID string) *OrderBook {
	if book, found := engine.orderbooks.Load(marketID); found {
		return book.(*OrderBook)
	}

	newBook := NewOrderBook(marketID, engine.sink, engine.opts)
	book, loaded := engine.orderbooks.LoadOrStore(marketID, newBook)
	if !loaded {
		go func() {
			_ = newBook.Start()
		}()
	}

	return book.(*OrderBook)
}

// PlaceOrder routes the command to the book for cmd.MarketID.
func (engine *MatchingEngine) PlaceOrder(ctx context.Context, cmd *PlaceOrderCommand) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	if len(cmd.MarketID) == 0 {
		return ErrInvalidParam
	}

	return engine.OrderBook(cmd.MarketID).PlaceOrder(ctx, cmd)
}

// CancelOrder routes a cancellation to the book for marketID.
func (engine *MatchingEngine) CancelOrder(ctx context.Context, marketID string, orderID uint64) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	book, found := engine.orderbooks.Load(marketID)
	if !found {
		return ErrNotFound
	}

	return book.(*OrderBook).CancelOrder(ctx, orderID)
}

// Shutdown stops every book and waits for their pending commands to
// drain or the context to expire.
func (engine *MatchingEngine) Shutdown(ctx context.Context) error {
	if !engine.isShutdown.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	engine.orderbooks.Range(func(_, value any) bool {
		if e := value.(*OrderBook).Shutdown(ctx); e != nil {
			err = e
		}
		return true
	})

	return err
}
