// Package feed consumes a vendor's websocket tick stream and pushes each
// price sample into the OHLC recorder, complementing the polled refresh path
// with intraday granularity.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// TickHandler is invoked for each parsed tick.
type TickHandler func(ctx context.Context, itemCode string, price decimal.Decimal, ts time.Time)

// tickMessage is the vendor's wire shape for one push update.
type tickMessage struct {
	Code      string `json:"code"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// TickerFeed connects to the tick websocket and invokes the handler for each
// message. Disconnects are retried with exponential backoff; a malformed
// message is logged and skipped rather than tearing the connection down.
type TickerFeed struct {
	url             string
	onTick          TickHandler
	maxReconnectDur time.Duration
	logger          *slog.Logger
	closeOnce       sync.Once
	done            chan struct{}
}

// NewTickerFeed creates a feed for the given websocket URL.
func NewTickerFeed(url string, onTick TickHandler, maxReconnect time.Duration, logger *slog.Logger) *TickerFeed {
	if maxReconnect <= 0 {
		maxReconnect = time.Minute
	}
	return &TickerFeed{
		url:             url,
		onTick:          onTick,
		maxReconnectDur: maxReconnect,
		logger:          logger.With(slog.String("component", "ticker_feed")),
		done:            make(chan struct{}),
	}
}

// Run connects and consumes ticks until ctx is cancelled or Close is called,
// reconnecting with exponential backoff on disconnect.
func (f *TickerFeed) Run(ctx context.Context) error {
	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			f.logger.Warn("tick feed disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.maxReconnectDur {
			delay = f.maxReconnectDur
		}
	}
}

func (f *TickerFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.logger.Info("tick feed connected", slog.String("url", f.url))

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var msg tickMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Warn("skipping malformed tick", slog.String("error", err.Error()))
			continue
		}
		price, err := decimal.NewFromString(msg.Price)
		if err != nil || msg.Code == "" {
			f.logger.Warn("skipping malformed tick", slog.String("code", msg.Code))
			continue
		}

		ts := time.Unix(msg.Timestamp, 0).UTC()
		if msg.Timestamp == 0 {
			ts = time.Now().UTC()
		}
		f.onTick(ctx, msg.Code, price, ts)
	}
}

// Close stops the feed.
func (f *TickerFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
