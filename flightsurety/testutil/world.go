package testutil

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flightsurety/oracle-server/flightsurety/api"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/journal"
	"github.com/flightsurety/oracle-server/flightsurety/service"
)

// World is the test world - it holds all the state that is shared between steps
type World struct {
	Ledger       *Ledger
	Service      *service.Service
	Journal      *journal.Journal
	API          http.Handler
	Selected     []common.Address
	LastError    error
	LastResponse *httptest.ResponseRecorder

	logs    *logBuffer
	logger  log.Logger
	cancel  context.CancelFunc
	tempDir string
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewWorld creates a world around an in-memory ledger with the given number
// of node accounts.
func NewWorld(accounts int) (*World, error) {
	td, err := os.MkdirTemp("", "flightsurety")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	logs := &logBuffer{}
	return &World{
		Ledger:  NewLedger(contract.Default(), accounts),
		logs:    logs,
		logger:  log.NewLogger(log.JSONHandler(logs)),
		tempDir: td,
	}, nil
}

// Start opens a journal, registers the oracles and starts listening. A
// registration error is kept in LastError; the service listens regardless.
func (w *World) Start(ctx context.Context, opts service.Options) error {
	j, err := journal.Open(ctx, filepath.Join(w.tempDir, "journal.db"), w.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	w.Journal = j
	opts.Journal = j

	w.Service = service.New(w.Ledger, contract.Default(), opts, w.logger)
	w.API = api.NewHandler(w.Service, api.Options{Events: j}, w.logger)

	ctx, w.cancel = context.WithCancel(ctx)
	w.Selected, w.LastError = w.Service.Register(ctx)

	err = w.Service.Listen(ctx)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return nil
}

// Get performs a request against the API and keeps the response.
func (w *World) Get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	w.API.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	w.LastResponse = rec
	return rec
}

// LogsContain reports whether any log record carries msg.
func (w *World) LogsContain(msg string) bool {
	return strings.Contains(w.logs.String(), fmt.Sprintf("%q", msg))
}

func (w *World) Shutdown() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.Service != nil {
		w.Service.Wait()
	}
	if w.Journal != nil {
		w.Journal.Close()
	}
	os.RemoveAll(w.tempDir)
}

func (w *World) AddLogsToTestError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w\n\nServer Logs:\n%s", err, w.logs.String())
}
