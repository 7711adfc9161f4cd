package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"market-pulse/internal/config"
	"market-pulse/internal/market"
	"market-pulse/internal/pipeline"
	"market-pulse/internal/ring"
	"market-pulse/internal/sink"
	"market-pulse/internal/state"
)

const (
	defaultBookDepth = 10
	maxBookDepth     = 1000
)

type PipelineStats interface {
	Stats() pipeline.Stats
}

type RecorderStats interface {
	Stats() sink.RecorderStats
}

type HTTPServer struct {
	cfg  config.Config
	st   *state.State
	pipe PipelineStats
	rec  RecorderStats
	hub  *hub
	log  *slog.Logger
	mux  *http.ServeMux

	bbo    *ring.Channel[market.BboSnapshot]
	bboCur *ring.Cursor
	imb    *ring.Channel[market.ImbalanceStat]
	imbCur *ring.Cursor

	bboLag     atomic.Uint64
	imbLag     atomic.Uint64
	bboSkipped atomic.Uint64
	imbSkipped atomic.Uint64
}

// NewHTTPServer attaches the dashboard cursors to both rings. rec may be nil
// when recording is disabled.
func NewHTTPServer(cfg config.Config, st *state.State, pipe PipelineStats, rec RecorderStats, bbo *ring.Channel[market.BboSnapshot], imb *ring.Channel[market.ImbalanceStat], logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:    cfg,
		st:     st,
		pipe:   pipe,
		rec:    rec,
		hub:    newHub(logger),
		log:    logger,
		mux:    http.NewServeMux(),
		bbo:    bbo,
		bboCur: bbo.NewCursor(),
		imb:    imb,
		imbCur: imb.NewCursor(),
	}
	s.routes()
	go s.hub.run()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// --------- WS broadcasts ----------

type bboEvent struct {
	Symbol string `json:"symbol"`
	market.BboSnapshot
}

type imbalanceEvent struct {
	Symbol string `json:"symbol"`
	market.ImbalanceStat
}

type statusEvent struct {
	Connected bool   `json:"connected"`
	Symbol    string `json:"symbol"`
	Exchange  string `json:"exchange"`
}

type errorEvent struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// RunPump polls the dashboard cursors once per frame and broadcasts the most
// recent BBO and imbalance, if any arrived since the previous frame.
func (s *HTTPServer) RunPump(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FrameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.frame()
		}
	}
}

func (s *HTTPServer) frame() {
	sym := s.st.Symbol()
	if b, ok := s.bbo.Latest(s.bboCur); ok {
		s.hub.publish(eventBBO, bboEvent{Symbol: sym, BboSnapshot: b})
	}
	if im, ok := s.imb.Latest(s.imbCur); ok {
		s.hub.publish(eventImbalance, imbalanceEvent{Symbol: sym, ImbalanceStat: im})
	}
	s.bboLag.Store(s.bbo.Lag(s.bboCur))
	s.imbLag.Store(s.imb.Lag(s.imbCur))
	s.bboSkipped.Store(s.bboCur.Skipped())
	s.imbSkipped.Store(s.imbCur.Skipped())
}

// BroadcastStatus sends the feed connection state. The last status is also
// replayed to dashboards that connect later.
func (s *HTTPServer) BroadcastStatus() {
	s.hub.publish(eventStatus, statusEvent{
		Connected: s.st.Connected(),
		Symbol:    s.st.Symbol(),
		Exchange:  s.cfg.Exchange,
	})
}

// BroadcastError never blocks, so the pipeline can call it inline.
func (s *HTTPServer) BroadcastError(msg string) {
	s.hub.publish(eventError, errorEvent{Message: msg, Time: time.Now()})
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/ws", s.hub.serveWS)

	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/config", s.apiConfig)
	s.mux.HandleFunc("/api/stats", s.apiStats)
	s.mux.HandleFunc("/api/book", s.apiBook)
	s.mux.HandleFunc("/api/bbo", s.apiBBO)
	s.mux.HandleFunc("/api/exposure", s.apiExposure)
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":        true,
		"connected": s.st.Connected(),
	})
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"exchange":          s.cfg.Exchange,
		"symbol":            s.st.Symbol(),
		"ringCapacity":      s.cfg.RingCapacity,
		"imbalanceDepth":    s.cfg.ImbalanceDepth,
		"maxSnapshotLevels": s.cfg.MaxSnapshotLevels,
		"frameIntervalMs":   s.cfg.FrameIntervalMs,
		"recorder":          s.cfg.Recorder.Enabled,
		"nats":              s.cfg.NATS.Enabled,
		"redis":             s.cfg.Redis.Enabled,
	})
}

func (s *HTTPServer) apiStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"pipeline": s.pipe.Stats(),
		"published": map[string]uint64{
			"bbo":       s.bbo.Published(),
			"imbalance": s.imb.Published(),
		},
		"dashboard": map[string]uint64{
			"bboLag":           s.bboLag.Load(),
			"imbalanceLag":     s.imbLag.Load(),
			"bboSkipped":       s.bboSkipped.Load(),
			"imbalanceSkipped": s.imbSkipped.Load(),
		},
		"websocket": s.hub.stats(),
	}
	if s.rec != nil {
		out["recorder"] = s.rec.Stats()
	}
	writeJSON(w, out)
}

// GET /api/book?depth=N
func (s *HTTPServer) apiBook(w http.ResponseWriter, r *http.Request) {
	depth := defaultBookDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBookDepth {
			http.Error(w, "depth must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		depth = n
	}
	snap := s.st.Book()
	if snap == nil {
		http.Error(w, "no book yet", http.StatusServiceUnavailable)
		return
	}
	bids, asks := snap.Top(depth)
	writeJSON(w, map[string]any{
		"symbol":    s.st.Symbol(),
		"time":      snap.Time,
		"bids":      bids,
		"asks":      asks,
		"imbalance": s.st.Pressure(),
	})
}

func (s *HTTPServer) apiBBO(w http.ResponseWriter, r *http.Request) {
	q := s.st.Quote()
	if q.Time.IsZero() {
		http.Error(w, "no quote yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"symbol": s.st.Symbol(), "quote": q})
}

// GET returns the current exposure; POST { "exposure": 1.5 } sets it.
func (s *HTTPServer) apiExposure(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req struct {
			Exposure *float64 `json:"exposure"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Exposure == nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s.st.SetExposure(*req.Exposure)
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "exposure": s.st.Exposure()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
