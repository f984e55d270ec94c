package binance

import (
	"context"
	"fmt"

	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/reader"

	binance "github.com/adshao/go-binance/v2"
)

// depthLevels picks the closest partial depth stream Binance offers.
func depthLevels(limit int) string {
	switch {
	case limit <= 5:
		return "5"
	case limit <= 10:
		return "10"
	default:
		return "20"
	}
}

// WatchOrderBook waits for the next partial depth push for the market,
// subscribing on first use and again after the stream drops.
func (e *Exchange) WatchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	if err := e.subscribe(market, limit); err != nil {
		return reader.Classify(name, err)
	}
	return e.stream.Next(ctx, market)
}

func (e *Exchange) subscribe(market string, limit int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[market]; ok {
		return nil
	}

	symbol := symbols.ToVenue(name, market)
	log := e.log.WithFields(logger.Fields{"symbol": symbol, "worker": "depth_stream"})

	handler := func(event *binance.WsPartialDepthEvent) {
		snapshot, err := convertDepth(market, event.LastUpdateID, event.Asks, event.Bids)
		if err != nil {
			e.stream.Fail(market, err)
			return
		}
		logger.RecordChannelMessage("binance_ws")
		e.stream.Publish(market, snapshot)
	}
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
			e.stream.Fail(market, fmt.Errorf("binance stream %s: %w", symbol, err))
		}
	}

	e.tracker.RegisterConnectionAttempt()
	doneC, stopC, err := binance.WsPartialDepthServe(symbol, depthLevels(limit), handler, errHandler)
	if err != nil {
		return fmt.Errorf("binance subscribe %s: %w", symbol, err)
	}
	e.tracker.RegisterOutgoing(1)
	e.subs[market] = stopC
	log.Info("subscribed to partial depth stream")

	go func() {
		<-doneC
		e.mu.Lock()
		if e.subs[market] == stopC {
			delete(e.subs, market)
		}
		e.mu.Unlock()
		e.stream.Fail(market, fmt.Errorf("binance stream %s: %w", symbol, reader.ErrStreamClosed))
		ratemetrics.ReportWSWeight(logger.GetLogger(), e.tracker, name)
	}()
	return nil
}
