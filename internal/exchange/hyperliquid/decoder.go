// Package hyperliquid integrates the Hyperliquid public websocket feed.
package hyperliquid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"market-pulse/internal/exchange"
	"market-pulse/internal/market"
	"market-pulse/internal/parse"
)

const Name = "hyperliquid"

// DefaultURL is the mainnet websocket endpoint.
const DefaultURL = "wss://api.hyperliquid.xyz/ws"

func init() {
	if err := exchange.Register(Name, func(opts exchange.Options) (exchange.MarketDataDecoder, error) {
		return NewDecoder(opts), nil
	}); err != nil {
		panic(err)
	}
}

var (
	bboMarker    = []byte(`"bbo":[`)
	levelsMarker = []byte(`"levels":[`)
	tradesMarker = []byte(`"trades"`)

	subAckMarker = []byte(`"channel":"subscriptionResponse"`)
	pongMarker   = []byte(`"channel":"pong"`)
)

type Decoder struct {
	levels *parse.LevelParser
	book   *parse.BookSnapshotParser
}

func NewDecoder(opts exchange.Options) *Decoder {
	return &Decoder{
		levels: parse.NewLevelParser(),
		book:   parse.NewBookSnapshotParser(opts.MaxSnapshotLevels),
	}
}

func (d *Decoder) Name() string { return Name }

func (d *Decoder) Classify(msg []byte) exchange.Kind {
	// acks echo the subscription type, which would match the trades marker
	if bytes.Contains(msg, subAckMarker) || bytes.Contains(msg, pongMarker) {
		return 0
	}
	var k exchange.Kind
	if bytes.Contains(msg, bboMarker) {
		k |= exchange.KindBBO
	}
	if bytes.Contains(msg, levelsMarker) {
		k |= exchange.KindBook
	}
	if bytes.Contains(msg, tradesMarker) {
		k |= exchange.KindTrades
	}
	return k
}

func (d *Decoder) Timestamp(msg []byte) (time.Time, error) { return parse.Timestamp(msg) }

func (d *Decoder) DecodeBBO(msg []byte, dst []market.PriceLevel) ([]market.PriceLevel, error) {
	return d.levels.ParseBBO(msg, dst)
}

func (d *Decoder) DecodeBook(msg []byte, dst []market.BookLevelUpdate) ([]market.BookLevelUpdate, error) {
	return d.book.Parse(msg, dst)
}

func (d *Decoder) DecodeTrades(msg []byte, dst []market.Trade) ([]market.Trade, error) {
	return parse.ParseTrades(msg, dst)
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

// SubscribeMessages returns bbo, l2Book and trades subscriptions for coin.
func (d *Decoder) SubscribeMessages(coin string) ([][]byte, error) {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	out := make([][]byte, 0, 3)
	for _, typ := range []string{"bbo", "l2Book", "trades"} {
		b, err := json.Marshal(subscribeRequest{
			Method:       "subscribe",
			Subscription: subscription{Type: typ, Coin: coin},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
