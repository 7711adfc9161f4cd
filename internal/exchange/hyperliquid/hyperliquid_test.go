package hyperliquid

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"market-pulse/internal/exchange"
	"market-pulse/internal/parse"
)

const (
	bboMsg    = `{"channel":"bbo","data":{"coin":"BTC","time":1708622398623,"bbo":[{"px":"51000.00","sz":"1.5","n":4},{"px":"51001.00","sz":"0.5","n":2}]}}`
	bookMsg   = `{"channel":"l2Book","data":{"coin":"BTC","time":1708622398623,"levels":[[{"px":"51000.0","sz":"1.5","n":4}],[{"px":"51001.0","sz":"0.5","n":2}]]}}`
	tradesMsg = `{"channel":"trades","data":[{"coin":"BTC","side":"B","px":"51000.5","sz":"0.01","time":1708622398623,"tid":1}]}`
	ackMsg    = `{"channel":"subscriptionResponse","data":{"method":"subscribe","subscription":{"type":"trades","coin":"BTC"}}}`
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRegisteredDecoder(t *testing.T) {
	d, err := exchange.NewDecoder(Name, exchange.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != Name {
		t.Fatalf("name got %s", d.Name())
	}
}

func TestClassify(t *testing.T) {
	d := NewDecoder(exchange.Options{})
	cases := map[string]exchange.Kind{
		bboMsg:                  exchange.KindBBO,
		bookMsg:                 exchange.KindBook,
		tradesMsg:               exchange.KindTrades,
		ackMsg:                  0,
		`{"channel":"pong"}`:    0,
		`{"channel":"unknown"}`: 0,
	}
	for msg, want := range cases {
		if got := d.Classify([]byte(msg)); got != want {
			t.Errorf("Classify(%s) got %b want %b", msg, got, want)
		}
	}
}

func TestDecoderDelegates(t *testing.T) {
	d := NewDecoder(exchange.Options{MaxSnapshotLevels: 1})
	lvls, err := d.DecodeBBO([]byte(bboMsg), nil)
	if err != nil || len(lvls) != 2 || lvls[0].Price != 5100000 {
		t.Fatalf("bbo got %+v, %v", lvls, err)
	}
	// two levels against a limit of one
	if _, err := d.DecodeBook([]byte(bookMsg), nil); !errors.Is(err, parse.ErrOversizedSnapshot) {
		t.Fatalf("want oversized, got %v", err)
	}
	trades, err := d.DecodeTrades([]byte(tradesMsg), nil)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades got %+v, %v", trades, err)
	}
	ts, err := d.Timestamp([]byte(bboMsg))
	if err != nil || ts.UnixMilli() != 1708622398623 {
		t.Fatalf("timestamp got %v, %v", ts, err)
	}
}

func TestSubscribeMessages(t *testing.T) {
	d := NewDecoder(exchange.Options{})
	msgs, err := d.SubscribeMessages(" btc ")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		`{"method":"subscribe","subscription":{"type":"bbo","coin":"BTC"}}`,
		`{"method":"subscribe","subscription":{"type":"l2Book","coin":"BTC"}}`,
		`{"method":"subscribe","subscription":{"type":"trades","coin":"BTC"}}`,
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages", len(msgs))
	}
	for i := range want {
		if string(msgs[i]) != want[i] {
			t.Fatalf("msg %d got %s want %s", i, msgs[i], want[i])
		}
	}
	if _, err := d.SubscribeMessages(""); err == nil {
		t.Fatal("empty symbol should fail")
	}
}

func TestFeedSubscribesAndForwards(t *testing.T) {
	subs := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for i := 0; i < 3; i++ {
			_, m, err := c.ReadMessage()
			if err != nil {
				return
			}
			subs <- string(m)
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(bboMsg))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewFeed(url, "BTC", NewDecoder(exchange.Options{}), discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	status := make(chan bool, 8)
	done := make(chan struct{})
	go func() {
		feed.Run(ctx, func(c bool) { status <- c })
		close(done)
	}()

	select {
	case c := <-status:
		if !c {
			t.Fatal("expected connected status first")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no status")
	}

	for i := 0; i < 3; i++ {
		select {
		case m := <-subs:
			if !strings.Contains(m, `"coin":"BTC"`) {
				t.Fatalf("bad subscription %s", m)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("subscription not received")
		}
	}

	select {
	case m := <-feed.Messages():
		if string(m) != bboMsg {
			t.Fatalf("got %s", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message forwarded")
	}
	if !feed.Connected() {
		t.Fatal("feed should report connected")
	}

	feed.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if _, ok := <-feed.Messages(); ok {
		t.Fatal("messages channel should be closed")
	}
}

func TestMockFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := NewMockFeed()
	var _ exchange.Feed = mock

	statusCh := make(chan bool, 1)
	go mock.Run(ctx, func(c bool) { statusCh <- c })

	select {
	case c := <-statusCh:
		if !c {
			t.Fatal("expected connected status")
		}
	case <-time.After(time.Second):
		t.Fatal("no status")
	}

	mock.Send(bboMsg)
	select {
	case got := <-mock.Messages():
		if string(got) != bboMsg {
			t.Fatal("bad message")
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	mock.Close()
	select {
	case _, ok := <-mock.Messages():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
