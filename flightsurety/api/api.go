// Package api serves the read-only HTTP endpoints used by the dapp front end.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/flightsurety/oracle-server/flightsurety/flights"
	"github.com/flightsurety/oracle-server/flightsurety/journal"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

const (
	defaultEventLimit = 50
	shutdownTimeout   = 5 * time.Second
)

// IndexSource reports the index of the most recent oracle request.
type IndexSource interface {
	LastObservedIndex() (uint8, bool)
}

// EventStore lists journaled events.
type EventStore interface {
	Entries(ctx context.Context, kind string, limit int) ([]journal.Entry, error)
}

type Options struct {
	// CORSOrigins defaults to every origin.
	CORSOrigins []string
	// Events may be nil, in which case /events is not served.
	Events EventStore
}

type server struct {
	index  IndexSource
	events EventStore
	log    log.Logger
}

// NewHandler builds the router with CORS applied.
func NewHandler(index IndexSource, opts Options, logger log.Logger) http.Handler {
	s := &server{
		index:  index,
		events: opts.Events,
		log:    logger.New("component", "api"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api", s.status).Methods(http.MethodGet)
	r.HandleFunc("/flights", s.flights).Methods(http.MethodGet)
	r.HandleFunc("/eventIndex", s.eventIndex).Methods(http.MethodGet)
	r.HandleFunc("/events", s.journal).Methods(http.MethodGet)
	r.Handle("/debug/metrics", exp.ExpHandler(metrics.DefaultRegistry)).Methods(http.MethodGet)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(r)
}

type result struct {
	Result any `json:"result"`
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, map[string]string{"message": "API Online!"})
}

func (s *server) flights(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, result{Result: flights.All()})
}

func (s *server) eventIndex(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.index.LastObservedIndex()
	if !ok {
		s.write(w, http.StatusOK, result{Result: nil})
		return
	}
	s.write(w, http.StatusOK, result{Result: idx})
}

func (s *server) journal(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.write(w, http.StatusNotFound, map[string]string{"error": "event journal is not enabled"})
		return
	}

	q := r.URL.Query()
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.write(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.events.Entries(r.Context(), q.Get("kind"), limit)
	if err != nil {
		s.log.Error("Failed to read journal", "err", err)
		s.write(w, http.StatusInternalServerError, map[string]string{"error": "failed to read journal"})
		return
	}
	s.write(w, http.StatusOK, result{Result: entries})
}

func (s *server) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("Failed to write response", "err", err)
	}
}

// Serve serves h on l until ctx is cancelled, then shuts the server down
// gracefully.
func Serve(ctx context.Context, l net.Listener, h http.Handler, logger log.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serverEnded := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
			logger.Info("API server context cancelled - shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		case <-serverEnded:
		}
	}()

	logger.Info("API server listening", "addr", l.Addr())
	err := srv.Serve(l)
	close(serverEnded)
	<-shutdownDone
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	logger.Info("API server complete")
	return err
}
