package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/bkowalcz/pricewatch/internal/ai"
	"github.com/bkowalcz/pricewatch/internal/batch"
	"github.com/bkowalcz/pricewatch/internal/browser"
	"github.com/bkowalcz/pricewatch/internal/config"
	"github.com/bkowalcz/pricewatch/internal/extract"
	"github.com/bkowalcz/pricewatch/internal/fetch"
	"github.com/bkowalcz/pricewatch/internal/learned"
	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
	"github.com/bkowalcz/pricewatch/internal/storage"
	"github.com/bkowalcz/pricewatch/internal/util"
	"github.com/bkowalcz/pricewatch/internal/validate"
)

// store is the persistence surface the server needs; Firestore and the
// in-memory store both satisfy it.
type store interface {
	learned.Store
	RecordExtraction(ctx context.Context, rec models.ExtractionRecord) error
	TrimOldRecords(ctx context.Context, maxRecords int) error
}

type Server struct {
	orchestrator *batch.Orchestrator
	store        store
	cfg          *config.Config
	targetCheck  *validator.Validate

	mu         sync.RWMutex
	lastReport *models.BatchReport
	running    bool
}

func main() {
	slog.Info("Starting price extraction service...")
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var st store
	if cfg.ProjectID != "" {
		fs, err := storage.NewFirestore(ctx, cfg.ProjectID)
		if err != nil {
			slog.Error("Critical error initializing Firestore client", "error", err)
			os.Exit(1)
		}
		defer fs.Close()
		st = fs
	} else {
		st = storage.NewMemory()
	}

	resolver, err := rules.Load(cfg.RulesPath)
	if err != nil {
		slog.Error("Critical error loading extraction rules", "error", err)
		os.Exit(1)
	}

	completer, err := ai.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Error("Critical error initializing completion client", "error", err)
		os.Exit(1)
	}

	cache := learned.NewCache(st, cfg.SelectorMaxMisses)
	fetcher := fetch.New(fetch.Options{
		ProxyBaseURL:    cfg.ProxyBaseURL,
		ProxyAPIKey:     cfg.ProxyAPIKey,
		ProxyRatePerSec: cfg.ProxyRatePerSec,
		Backoff:         util.DefaultBackoff(),
		UserAgent:       cfg.UserAgent,
		Renderer:        browser.NewRenderer(cfg.UserAgent, cfg.PageLoadTimeout),
	})
	variantResolver := browser.NewResolver(
		browser.NewSessionFactory(cfg.UserAgent), cfg.PageLoadTimeout, cfg.SettleTimeout)

	pipelineCfg := extract.Config{
		Rules:             resolver,
		Fetcher:           fetcher,
		Resolver:          variantResolver,
		Cache:             cache,
		BrowserSlots:      int64(cfg.BrowserSlots),
		MinPlausiblePrice: cfg.MinPlausiblePrice,
	}
	if completer != nil {
		// A typed nil in the interface would defeat the pipeline's nil
		// check, so only assign a live client.
		pipelineCfg.Completer = completer
	}
	pipeline := extract.New(pipelineCfg)

	orchestrator := batch.New(batch.Options{
		Extractor:   pipeline,
		Validator:   validate.New(cfg.IncreaseThreshold, cfg.DecreaseThreshold, cfg.MinPlausiblePrice),
		RuleSource:  resolver,
		Recorder:    st,
		Learner:     cache,
		Workers:     cfg.Workers,
		ItemTimeout: cfg.ItemTimeout,
	})

	srv := &Server{
		orchestrator: orchestrator,
		store:        st,
		cfg:          cfg,
		targetCheck:  validator.New(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/run", srv.RunBatchHandler)
	mux.HandleFunc("/report", srv.ReportHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening on port", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

// RunBatchHandler kicks off a batch run. Targets come from the request body
// when one is posted, otherwise from the configured targets file. The run
// itself is asynchronous so page loads and browser sessions never block the
// HTTP response.
func (s *Server) RunBatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	targets, err := s.loadTargets(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(targets) == 0 {
		http.Error(w, "no targets to process", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "a batch is already running", http.StatusConflict)
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic in batch run", "panic", rec)
			}
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		budget := s.cfg.ItemTimeout * time.Duration((len(targets)/s.cfg.Workers)+2)
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		report := s.orchestrator.Run(ctx, targets)

		s.mu.Lock()
		s.lastReport = report
		s.mu.Unlock()

		if err := s.store.TrimOldRecords(ctx, s.cfg.MaxStoredRecords); err != nil {
			slog.Warn("Failed to trim extraction records", "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"status":"started","targets":%d}`+"\n", len(targets))
}

// ReportHandler returns the most recent finished batch report.
func (s *Server) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	report := s.lastReport
	running := s.running
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if report == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"no batch has finished yet","running":%t}`+"\n", running)
		return
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Error("Failed to encode report", "error", err)
	}
}

// loadTargets reads product targets from the request body, falling back to
// the configured targets file, and validates every entry before the batch
// starts so a malformed target fails fast instead of mid-run.
func (s *Server) loadTargets(body io.Reader) ([]models.ProductTarget, error) {
	data, err := io.ReadAll(io.LimitReader(body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if len(data) == 0 {
		data, err = os.ReadFile(s.cfg.TargetsPath)
		if err != nil {
			return nil, fmt.Errorf("no targets in request and targets file unavailable: %w", err)
		}
	}

	var targets []models.ProductTarget
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parsing targets: %w", err)
	}
	for i, t := range targets {
		if err := s.targetCheck.Struct(t); err != nil {
			return nil, fmt.Errorf("target %d (%s) is invalid: %w", i, t.ID, err)
		}
	}
	return targets, nil
}
