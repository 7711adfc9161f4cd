// Package rediscache keeps the latest market view for a symbol in Redis.
//
// Key schema:
//
//	<prefix>:<symbol>:bbo        - hash with bid/ask/sizes/mid/weighted_mid/ts
//	<prefix>:<symbol>:imbalance  - hash with ratio/spread/second levels/ts
//	<prefix>:<symbol>:trades     - list of JSON trades, newest first, capped
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"market-pulse/internal/market"
)

const (
	DefaultKeyPrefix    = "mp"
	DefaultTradeHistory = 1000
)

type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	TradeHistory int
}

type Cache struct {
	rdb     *redis.Client
	prefix  string
	history int64
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewWithClient(rdb, cfg), nil
}

func NewWithClient(rdb *redis.Client, cfg Config) *Cache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	history := cfg.TradeHistory
	if history <= 0 {
		history = DefaultTradeHistory
	}
	return &Cache{rdb: rdb, prefix: prefix, history: int64(history)}
}

func (c *Cache) key(symbol, kind string) string {
	return c.prefix + ":" + strings.ToUpper(symbol) + ":" + kind
}

func (c *Cache) BBOKey(symbol string) string       { return c.key(symbol, "bbo") }
func (c *Cache) ImbalanceKey(symbol string) string { return c.key(symbol, "imbalance") }
func (c *Cache) TradesKey(symbol string) string    { return c.key(symbol, "trades") }

func (c *Cache) Name() string { return "redis" }

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func bboFields(b market.BboSnapshot) map[string]any {
	return map[string]any{
		"bid":          b.Bid().Price.String(),
		"bid_size":     b.Bid().Size.String(),
		"ask":          b.Ask().Price.String(),
		"ask_size":     b.Ask().Size.String(),
		"mid":          ff(b.Mid),
		"weighted_mid": ff(b.WeightedMid),
		"ts":           b.Time.UnixMilli(),
	}
}

func imbalanceFields(s market.ImbalanceStat) map[string]any {
	return map[string]any{
		"ratio":      ff(s.Ratio),
		"spread":     ff(s.Spread),
		"best_bid":   ff(s.BestBid),
		"second_bid": ff(s.SecondBid),
		"best_ask":   ff(s.BestAsk),
		"second_ask": ff(s.SecondAsk),
		"ts":         s.Time.UnixMilli(),
	}
}

func (c *Cache) WriteBBO(ctx context.Context, symbol string, b market.BboSnapshot) error {
	if err := c.rdb.HSet(ctx, c.BBOKey(symbol), bboFields(b)).Err(); err != nil {
		return fmt.Errorf("redis: set bbo %s: %w", symbol, err)
	}
	return nil
}

func (c *Cache) WriteImbalance(ctx context.Context, symbol string, s market.ImbalanceStat) error {
	if err := c.rdb.HSet(ctx, c.ImbalanceKey(symbol), imbalanceFields(s)).Err(); err != nil {
		return fmt.Errorf("redis: set imbalance %s: %w", symbol, err)
	}
	return nil
}

// WriteTrades pushes trades newest first and trims the list to the configured
// history in one transaction.
func (c *Cache) WriteTrades(ctx context.Context, symbol string, trades []market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	vals := make([]any, len(trades))
	for i, t := range trades {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("redis: marshal trade: %w", err)
		}
		vals[i] = b
	}
	key := c.TradesKey(symbol)
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, 0, c.history-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push trades %s: %w", symbol, err)
	}
	return nil
}

func (c *Cache) Close() error { return c.rdb.Close() }
