package bitstamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ratemetrics "arbflow/internal/metrics/rate"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/reader"

	"github.com/gorilla/websocket"
)

var errReconnectRequested = errors.New("bitstamp requested reconnect")

type wsRequest struct {
	Event string            `json:"event"`
	Data  map[string]string `json:"data"`
}

type wsMessage struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WatchOrderBook waits for the next order book push for the market. The
// shared connection is dialled on first use and again after it drops.
func (e *Exchange) WatchOrderBook(ctx context.Context, market string, limit int) reader.FetchResult {
	if err := e.subscribe(ctx, market); err != nil {
		return reader.Classify(name, err)
	}
	return e.stream.Next(ctx, market)
}

func (e *Exchange) subscribe(ctx context.Context, market string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 30 * time.Second
		e.tracker.RegisterConnectionAttempt()
		conn, _, err := dialer.DialContext(ctx, e.wsURL, nil)
		if err != nil {
			return fmt.Errorf("bitstamp dial: %w", err)
		}
		e.conn = conn
		e.channels = make(map[string]string)
		go e.readLoop(conn)
		e.log.WithFields(logger.Fields{"url": e.wsURL}).Info("bitstamp websocket connected")
	}

	channel := "order_book_" + symbols.ToVenue(name, market)
	if _, ok := e.channels[channel]; ok {
		return nil
	}
	req := wsRequest{Event: "bts:subscribe", Data: map[string]string{"channel": channel}}
	if err := e.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("bitstamp subscribe %s: %w", channel, err)
	}
	e.tracker.RegisterOutgoing(1)
	e.channels[channel] = market
	return nil
}

func (e *Exchange) marketFor(channel string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	market, ok := e.channels[channel]
	return market, ok
}

func (e *Exchange) readLoop(conn *websocket.Conn) {
	log := e.log.WithFields(logger.Fields{"worker": "orderbook_stream"})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.dropConn(conn, err)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Warn("failed to decode websocket message")
			continue
		}

		switch msg.Event {
		case "data":
			market, ok := e.marketFor(msg.Channel)
			if !ok {
				continue
			}
			var book orderBookResponse
			if err := json.Unmarshal(msg.Data, &book); err != nil {
				e.stream.Fail(market, fmt.Errorf("bitstamp %s: %w", msg.Channel, err))
				continue
			}
			snapshot, err := convertOrderBook(market, book)
			if err != nil {
				e.stream.Fail(market, err)
				continue
			}
			logger.RecordChannelMessage("bitstamp_ws")
			e.stream.Publish(market, snapshot)
		case "bts:request_reconnect":
			log.Warn("bitstamp requested reconnect")
			e.dropConn(conn, errReconnectRequested)
			return
		case "bts:error":
			if market, ok := e.marketFor(msg.Channel); ok {
				e.stream.Fail(market, fmt.Errorf("bitstamp %s: %s", msg.Channel, string(msg.Data)))
			}
		}
	}
}

// dropConn forgets a dead connection and fails every market it served so
// waiting watchers see the error and the next watch reconnects.
func (e *Exchange) dropConn(conn *websocket.Conn, cause error) {
	e.mu.Lock()
	if e.conn != conn {
		e.mu.Unlock()
		return
	}
	markets := make([]string, 0, len(e.channels))
	for _, m := range e.channels {
		markets = append(markets, m)
	}
	e.conn = nil
	e.channels = nil
	e.mu.Unlock()

	conn.Close()
	for _, m := range markets {
		e.stream.Fail(m, fmt.Errorf("bitstamp stream: %w: %w", reader.ErrStreamClosed, cause))
	}
	ratemetrics.ReportWSWeight(logger.GetLogger(), e.tracker, name)
}

func (e *Exchange) Close() error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn != nil {
		e.dropConn(conn, reader.ErrStreamClosed)
	}
	e.stream.Close(reader.ErrStreamClosed)
	return nil
}
