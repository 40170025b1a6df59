// Package leaderboard tracks named measurement sessions and keeps the
// high-score table.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/julienschmidt/httprouter"
	"github.com/norasector/lightspeed/pkg/dsp/viz"
	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/estimator"
	"github.com/norasector/lightspeed/pkg/lightspeed/link"
	"github.com/norasector/lightspeed/pkg/lightspeed/measurement"
	"github.com/norasector/lightspeed/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionRunning = errors.New("session already running")
	ErrNoSession      = errors.New("no session running")
	ErrEmptyName      = errors.New("session name must not be empty")
)

type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

type Board struct {
	cfg      config.Leaderboard
	in       *link.Link
	store    *Store
	logger   zerolog.Logger
	writeAPI api.WriteAPI
	now      func() time.Time

	mu      sync.Mutex
	current *Session
	records []Record
}

type BoardOption func(b *Board) error

func WithLogger(logger zerolog.Logger) BoardOption {
	return func(b *Board) error {
		b.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) BoardOption {
	return func(b *Board) error {
		b.writeAPI = writeAPI
		return nil
	}
}

func WithClock(now func() time.Time) BoardOption {
	return func(b *Board) error {
		b.now = now
		return nil
	}
}

// NewBoard loads the high-score file named in cfg. in carries enriched frames
// from the consumer.
func NewBoard(cfg config.Leaderboard, in *link.Link, opts ...BoardOption) (*Board, error) {
	b := &Board{
		cfg:      cfg,
		in:       in,
		store:    NewStore(cfg.HighscoreFile),
		logger:   log.Logger,
		writeAPI: &util.MockWriteAPI{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	records, err := b.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", b.store.Path(), err)
	}
	SortRecords(records)
	b.records = records

	b.logger.Info().Str("file", b.store.Path()).Int("records", len(records)).Msg("leaderboard loaded")
	return b, nil
}

func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil {
		return StateRunning
	}
	return StateIdle
}

// Start begins a session for name.
func (b *Board) Start(name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil {
		return nil, ErrSessionRunning
	}
	b.current = newSession(name, b.now())
	b.logger.Info().Str("session", b.current.ID).Str("name", name).Msg("session started")
	return b.current, nil
}

// Stop ends the running session. The record is stored only when every field
// was set; the returned bool tells whether it was.
func (b *Board) Stop() (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.current
	if s == nil {
		return Record{}, false, ErrNoSession
	}
	b.current = nil

	rec, ok := s.Record(b.now())
	b.logger.Info().Str("session", s.ID).Str("name", s.Name).Int("count", s.Count()).Bool("recorded", ok).Msg("session stopped")
	b.writeSessionMetrics(s, ok)
	if !ok {
		return Record{}, false, nil
	}

	records := append(append([]Record(nil), b.records...), rec)
	SortRecords(records)
	if err := b.store.Save(records); err != nil {
		return rec, false, fmt.Errorf("save %s: %w", b.store.Path(), err)
	}
	b.records = records
	return rec, true, nil
}

// Abort discards the running session.
func (b *Board) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ErrNoSession
	}
	b.logger.Info().Str("session", b.current.ID).Msg("session aborted")
	b.current = nil
	return nil
}

// Observe feeds one enriched frame into the running session, if any.
func (b *Board) Observe(f *measurement.Frame) bool {
	if f.Estimate == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return false
	}
	velocity := estimator.ClampVelocity(f.CounterVelocity)
	return b.current.Observe(velocity, f.Estimate.SpeedSingle, f.Estimate.DeviationPercent, b.cfg.VThreshold)
}

func (b *Board) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.records...)
}

// Run consumes frames until the sentinel arrives. A running session is left
// unsaved.
func (b *Board) Run(ctx context.Context) error {
	for {
		f, err := b.in.Receive(ctx)
		if err != nil {
			return err
		}
		if f == nil {
			b.logger.Info().Msg("leaderboard got termination request")
			return nil
		}
		b.Observe(f)
	}
}

func (b *Board) writeSessionMetrics(s *Session, recorded bool) {
	st := s.Status()
	stored := 0
	if recorded {
		stored = 1
	}
	b.writeAPI.WritePoint(influxdb2.NewPoint("leaderboard.session",
		map[string]string{"session": s.ID},
		map[string]interface{}{
			"count":   st.Count,
			"vmax":    st.VMax,
			"pctbest": st.PctBest,
			"cavg":    st.CAvg,
			"stored":  stored,
		}, b.now()))
}

// Table is the JSON document served on GET /leaderboard.
type Table struct {
	State   string     `json:"state"`
	Current *Status    `json:"current,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Records []Record   `json:"records"`
}

func (b *Board) Table() Table {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := Table{
		State:   StateIdle.String(),
		Headers: Headers(b.cfg.Lang),
		Rows:    make([][]string, 0, len(b.records)),
		Records: append([]Record{}, b.records...),
	}
	if b.current != nil {
		st := b.current.Status()
		t.State = StateRunning.String()
		t.Current = &st
	}
	for _, r := range b.records {
		t.Rows = append(t.Rows, r.Row())
	}
	return t
}

// RegisterRoutes mounts the session controls on the viz server.
func (b *Board) RegisterRoutes(s *viz.Server) {
	s.Handle(http.MethodPost, "/session/start", b.handleStart)
	s.Handle(http.MethodPost, "/session/stop", b.handleStop)
	s.Handle(http.MethodPost, "/session/abort", b.handleAbort)
	s.Handle(http.MethodGet, "/leaderboard", b.handleTable)
}

func (b *Board) handleStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, err := b.Start(r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	b.mu.Lock()
	st := s.Status()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

func (b *Board) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rec, stored, err := b.Stop()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Stored bool    `json:"stored"`
		Record *Record `json:"record,omitempty"`
	}{stored, recordOrNil(rec, stored)})
}

func (b *Board) handleAbort(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := b.Abort(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Board) handleTable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, b.Table())
}

func recordOrNil(r Record, ok bool) *Record {
	if !ok {
		return nil
	}
	return &r
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrEmptyName):
		status = http.StatusBadRequest
	case errors.Is(err, ErrSessionRunning), errors.Is(err, ErrNoSession):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("error encoding response")
	}
}
