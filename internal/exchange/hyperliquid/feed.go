package hyperliquid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"market-pulse/internal/exchange"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	maxBackoff   = 30 * time.Second
)

var pingFrame = []byte(`{"method":"ping"}`)

var _ exchange.Feed = (*Feed)(nil)

// Subscriber produces the frames sent after each (re)connect.
type Subscriber interface {
	SubscribeMessages(symbol string) ([][]byte, error)
}

// Feed keeps one websocket subscription alive, resubscribing after every
// reconnect, and forwards raw frames on Messages.
type Feed struct {
	url    string
	symbol string
	sub    Subscriber
	log    *slog.Logger
	dialer *websocket.Dialer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	started   bool
	cancel    context.CancelFunc

	writeMu sync.Mutex

	msgCh chan []byte
	errCh chan error
}

func NewFeed(url, symbol string, sub Subscriber, logger *slog.Logger) *Feed {
	if url == "" {
		url = DefaultURL
	}
	return &Feed{
		url:    url,
		symbol: symbol,
		sub:    sub,
		log:    logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		msgCh:  make(chan []byte, 1024),
		errCh:  make(chan error, 16),
	}
}

func (f *Feed) Messages() <-chan []byte { return f.msgCh }
func (f *Feed) Errors() <-chan error    { return f.errCh }

func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *Feed) setConn(c *websocket.Conn) {
	f.mu.Lock()
	f.conn = c
	f.connected = c != nil
	f.mu.Unlock()
}

// Close stops Run and drops the current connection.
func (f *Feed) Close() {
	f.mu.Lock()
	cancel, conn := f.cancel, f.conn
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (f *Feed) Run(ctx context.Context, onStatus func(connected bool)) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	defer close(f.errCh)
	defer close(f.msgCh)

	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := f.connect(ctx)
		if err != nil {
			onStatus(false)
			f.emitErr(err)
			f.log.Warn("feed connect failed", slog.String("url", f.url), slog.Duration("retry_in", backoff), slog.Any("err", err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		f.setConn(conn)
		onStatus(true)
		f.log.Info("feed connected", slog.String("url", f.url), slog.String("symbol", f.symbol))
		backoff = time.Second

		err = f.readLoop(ctx, conn)
		f.setConn(nil)
		onStatus(false)
		if ctx.Err() != nil {
			return
		}
		f.emitErr(err)
		f.log.Warn("feed disconnected", slog.Any("err", err))
	}
}

func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	subs, err := f.sub.SubscribeMessages(f.symbol)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.symbol, err)
	}
	for _, m := range subs {
		if err := conn.WriteMessage(websocket.TextMessage, m); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", f.symbol, err)
		}
	}
	return conn, nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadLimit(1 << 22)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go f.keepalive(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		select {
		case f.msgCh <- data:
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Feed) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, pingFrame)
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *Feed) emitErr(err error) {
	select {
	case f.errCh <- err:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
