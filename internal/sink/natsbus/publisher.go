// Package natsbus publishes recorded market data to NATS subjects of the form
// <prefix>.<kind>.<symbol>.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"market-pulse/internal/market"
)

const DefaultSubjectPrefix = "marketdata"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Flush() error
	Close()
}

type Config struct {
	URL           string
	SubjectPrefix string
	ClientName    string
}

type Publisher struct {
	conn   Conn
	prefix string
	log    *slog.Logger
}

// Connect dials NATS and keeps reconnecting in the background.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.ClientName
	if name == "" {
		name = "market-pulse"
	}
	log := logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", slog.Any("err", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return NewPublisher(nc, cfg.SubjectPrefix, logger), nil
}

func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, log: logger.With("component", "nats")}
}

// Subject builds <prefix>.<kind>.<symbol>.
func (p *Publisher) Subject(kind, symbol string) string {
	return p.prefix + "." + kind + "." + strings.ToUpper(symbol)
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) WriteTrades(_ context.Context, symbol string, trades []market.Trade) error {
	subject := p.Subject("trade", symbol)
	for _, t := range trades {
		if err := p.publish(subject, t); err != nil {
			return err
		}
	}
	return nil
}

type bboEvent struct {
	Symbol string `json:"symbol"`
	market.BboSnapshot
}

func (p *Publisher) WriteBBO(_ context.Context, symbol string, b market.BboSnapshot) error {
	return p.publish(p.Subject("bbo", symbol), bboEvent{Symbol: symbol, BboSnapshot: b})
}

type imbalanceEvent struct {
	Symbol string `json:"symbol"`
	market.ImbalanceStat
}

func (p *Publisher) WriteImbalance(_ context.Context, symbol string, s market.ImbalanceStat) error {
	return p.publish(p.Subject("imbalance", symbol), imbalanceEvent{Symbol: symbol, ImbalanceStat: s})
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	if err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}
