/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command knhk-kernel is the autonomic workflow kernel daemon: it wires the
// admission gate, dispatcher, executor, promotion pipeline, andon monitor,
// and MAPE-K loop together and serves them until signalled to stop.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/seanchatmangpt/knhk-sub006/internal/catalog"
	"github.com/seanchatmangpt/knhk-sub006/internal/config"
	"github.com/seanchatmangpt/knhk-sub006/internal/database"
	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/internal/telemetry"
	"github.com/seanchatmangpt/knhk-sub006/pkg/admission"
	"github.com/seanchatmangpt/knhk-sub006/pkg/andon"
	"github.com/seanchatmangpt/knhk-sub006/pkg/byzantine"
	"github.com/seanchatmangpt/knhk-sub006/pkg/compiler"
	"github.com/seanchatmangpt/knhk-sub006/pkg/dispatcher"
	"github.com/seanchatmangpt/knhk-sub006/pkg/executor"
	"github.com/seanchatmangpt/knhk-sub006/pkg/mapek"
	"github.com/seanchatmangpt/knhk-sub006/pkg/metrics"
	"github.com/seanchatmangpt/knhk-sub006/pkg/policy"
	"github.com/seanchatmangpt/knhk-sub006/pkg/promotion"
	"github.com/seanchatmangpt/knhk-sub006/pkg/receiptlog"
	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/snapshotstore"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the kernel's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		LogLevel:     cfg.Logging.Level,
		LogFormat:    cfg.Logging.Format,
	})
	if err != nil {
		panic(err)
	}
	log := providers.Log
	defer func() { _ = providers.Shutdown(context.Background()) }()

	signer, verifier, err := loadOrGenerateSigningKey(cfg.Signing)
	if err != nil {
		log.Error(err, "kernel: signing key setup failed")
		os.Exit(1)
	}

	store, receiptLog, closeStorage, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		log.Error(err, "kernel: storage setup failed")
		os.Exit(1)
	}
	defer closeStorage()

	var patterns []types.Pattern
	var guards []types.Guard
	if cfg.Compiler.PatternCatalogPath != "" {
		patterns, guards, err = catalog.Load(cfg.Compiler.PatternCatalogPath)
		if err != nil {
			log.Error(err, "kernel: pattern catalog load failed")
			os.Exit(1)
		}
	} else {
		patterns, guards = catalog.Default()
		log.Info("kernel: no pattern_catalog_path configured, running with the bootstrap catalog")
	}
	patternMap, guardMap := catalog.AsValidatorTables(patterns, guards)

	var notifier andon.Notifier
	if cfg.Andon.SlackBotToken != "" {
		notifier = andon.NewSlackNotifier(cfg.Andon.SlackBotToken, cfg.Andon.SlackChannel)
	}
	monitor := andon.NewMonitor(log, andon.Config{
		AutoStopOnRed:    cfg.Andon.AutoStopOnRed,
		FailureThreshold: cfg.Andon.FailureThreshold,
		ResetTimeout:     cfg.Andon.ResetTimeout,
	}, notifier)

	comp := compiler.New(signer)
	pipeline := promotion.New(log, promotion.Config{
		Verifier: verifier,
		Receipts: receiptLog,
		Andon:    monitor,
	})

	if err := bootstrapDescriptor(ctx, store, comp, pipeline, patterns, guards); err != nil {
		log.Error(err, "kernel: bootstrap compilation/promotion failed")
		os.Exit(1)
	}

	gate := admission.NewGate(log, admission.Config{
		DefaultBudget:    cfg.Admission.DefaultBudget,
		DefaultPriority:  cfg.Admission.DefaultPriority,
		RequireSignature: cfg.Admission.RequireSignature,
		PatternByteCount: cfg.Admission.PatternByteCount,
	}, verifier, catalog.AsLookup(patterns), receiptLog, monitor, func() types.ShapeSchema { return nil })

	exec := executor.New(log, executor.Config{
		Effects:  loggingSideEffectPort{log: log},
		Receipts: receiptLog,
		Andon:    monitor,
	})

	disp := dispatcher.New(log, dispatcher.Config{
		Executor:    exec,
		Descriptors: pipeline,
		Andon:       monitor,
	})

	var limiter mapek.RateLimiter
	if cfg.MAPEK.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.MAPEK.RedisAddr})
		redisLimiter, err := mapek.NewRedisRateLimiter(rdb, "knhk:mapek:proposer", int64(cfg.MAPEK.ProposerRateLimit), cfg.MAPEK.RateLimitWindow)
		if err != nil {
			log.Error(err, "kernel: redis rate limiter setup failed")
			os.Exit(1)
		}
		limiter = redisLimiter
	} else {
		limiter = mapek.NewInMemoryRateLimiter(int64(cfg.MAPEK.ProposerRateLimit), cfg.MAPEK.RateLimitWindow)
	}

	var doctrine *policy.Evaluator
	if cfg.MAPEK.DoctrinePolicyDir != "" {
		doctrine, err = policy.NewEvaluator(ctx, cfg.MAPEK.DoctrinePolicyDir)
		if err != nil {
			log.Error(err, "kernel: doctrine policy evaluator setup failed")
			os.Exit(1)
		}
	}

	validator := mapek.NewValidator(signer, signing.SHA3Hasher{}, doctrine, patternMap, guardMap)

	snapshotSeq := uint64(1)
	loop := mapek.NewLoop(log, mapek.LoopConfig{
		Log:            receiptLog,
		WindowSize:     cfg.MAPEK.WindowSize,
		WindowDuration: cfg.MAPEK.WindowDuration,
		Limiter:        limiter,
		Validator:      validator,
		Execute: mapek.ExecuteDeps{
			Store:       store,
			Compiler:    comp,
			Broadcaster: byzantine.NewLocalBroadcaster("kernel-0"),
			Pipeline:    pipeline,
			Patterns:    patterns,
			Guards:      guards,
		},
		Strategy: types.CompositionSequential,
		NextSnapshotID: func() (string, uint64) {
			snapshotSeq++
			return "mapek-candidate-" + time.Now().UTC().Format("20060102T150405.000000000"), snapshotSeq
		},
		Estimator: mapek.NewEstimator(),
	})

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()

	admissionServer := &http.Server{
		Addr:    ":" + cfg.Server.AdmissionPort,
		Handler: kernelRouter(gate, monitor, pipeline, comp, receiptLog),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return runMAPEKLoop(gctx, log, loop, cfg.MAPEK.WindowDuration) })
	g.Go(func() error {
		if err := admissionServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	log.Info("kernel: started", "admission_port", cfg.Server.AdmissionPort, "metrics_port", cfg.Server.MetricsPort)

	<-gctx.Done()
	log.Info("kernel: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = admissionServer.Shutdown(shutdownCtx)
	_ = metricsServer.Stop(shutdownCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "kernel: exited with error")
		os.Exit(1)
	}
}

// runMAPEKLoop drives one RunCycle per windowDuration until ctx is
// cancelled. A zero windowDuration falls back to one minute so a
// misconfigured kernel doesn't spin the loop unbounded.
func runMAPEKLoop(ctx context.Context, log logr.Logger, loop *mapek.Loop, windowDuration time.Duration) error {
	if windowDuration <= 0 {
		windowDuration = time.Minute
	}
	ticker := time.NewTicker(windowDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := loop.RunCycle(ctx)
			if err != nil {
				log.Error(err, "mapek: cycle failed")
				continue
			}
			log.Info("mapek: cycle complete",
				"proposed_overlays", report.ProposedOverlays,
				"proven_overlays", report.ProvenOverlays,
				"failed_overlays", report.FailedOverlays,
				"acceptance_rate", report.AcceptanceRate,
			)
		}
	}
}

// kernelRouter wires the admission gate and the operator surface (andon
// status/ack, manual rollback, receipt inspection) behind one chi router,
// so cmd/knhk-cli has a single HTTP API to talk to.
func kernelRouter(gate *admission.Gate, monitor *andon.Monitor, pipeline *promotion.Pipeline, _ *compiler.Compiler, receipts receiptlog.Log) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Post("/admit", func(w http.ResponseWriter, req *http.Request) {
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		decision, err := gate.Admit(req.Context(), payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if decision.Decision != "admit" {
			w.WriteHeader(http.StatusAccepted)
		}
		_ = json.NewEncoder(w).Encode(decision)
	})

	r.Get("/andon", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":       monitor.State(),
			"should_gate": monitor.ShouldGate(),
		})
	})

	r.Post("/andon/ack", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Operator string `json:"operator"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := monitor.Ack(req.Context(), body.Operator); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": monitor.State()})
	})

	r.Post("/rollback", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			SnapshotID string `json:"snapshot_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := pipeline.Rollback(req.Context(), body.SnapshotID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rolled_back_to": body.SnapshotID})
	})

	r.Get("/receipts", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		switch {
		case q.Get("violations") == "true":
			rs, err := receipts.GetViolations(req.Context())
			writeReceipts(w, rs, err)
		case q.Get("workflow") != "":
			rs, err := receipts.ByWorkflow(req.Context(), q.Get("workflow"))
			writeReceipts(w, rs, err)
		case q.Get("snapshot") != "":
			rs, err := receipts.BySnapshot(req.Context(), q.Get("snapshot"))
			writeReceipts(w, rs, err)
		default:
			stats, err := receipts.Stats(req.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		}
	})

	return r
}

func writeReceipts(w http.ResponseWriter, rs []types.Receipt, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggingSideEffectPort is the kernel's default SideEffectPort: it performs
// no real I/O and echoes the observation payload back unchanged, logging
// the port name it was invoked for. A deployment with real handler-effect
// phases in its catalog supplies its own SideEffectPort implementation in
// place of this one.
type loggingSideEffectPort struct {
	log logr.Logger
}

func (p loggingSideEffectPort) Invoke(_ context.Context, port string, payload []byte) ([]byte, error) {
	p.log.V(1).Info("side effect invoked", "port", port, "bytes", len(payload))
	return payload, nil
}

// bootstrapDescriptor compiles and promotes an empty base snapshot so the
// dispatcher has a Current descriptor to route against before the first
// MAPE-K cycle proposes a real one.
func bootstrapDescriptor(ctx context.Context, store snapshotstore.Store, comp *compiler.Compiler, pipeline *promotion.Pipeline, patterns []types.Pattern, guards []types.Guard) error {
	snap, err := types.NewSnapshot("bootstrap", 1, "", types.SnapshotMeta{}, nil, nil)
	if err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "kernel: build bootstrap snapshot")
	}
	if err := store.Add(ctx, snap); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "kernel: register bootstrap snapshot")
	}
	if err := store.Promote(ctx, snap.ID); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "kernel: promote bootstrap snapshot in store")
	}

	certified, err := comp.Compile(ctx, snap, patterns, guards, nil)
	if err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "kernel: compile bootstrap descriptor")
	}
	if err := pipeline.Promote(ctx, certified); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "kernel: promote bootstrap descriptor")
	}
	return nil
}

// openStorage selects the in-memory or disk-backed snapshot store and
// receipt log per cfg.Backend, returning a close func that is a no-op for
// the in-memory backend.
func openStorage(ctx context.Context, cfg config.StorageConfig, log logr.Logger) (snapshotstore.Store, receiptlog.Log, func(), error) {
	if cfg.Backend != "disk" {
		return snapshotstore.NewMemoryStore(), receiptlog.NewMemoryLog(), func() {}, nil
	}

	dbCfg := database.DefaultConfig()
	dbCfg.LoadFromEnv()
	db, err := database.Connect(dbCfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	log.Info("kernel: disk storage ready")
	return snapshotstore.NewSQLStore(db), receiptlog.NewSQLLog(db), func() { _ = db.Close() }, nil
}

// loadOrGenerateSigningKey reads a raw Ed25519 private key from
// cfg.SigningKeyPath. If the file cannot be read or does not hold exactly
// ed25519.PrivateKeySize bytes, it generates a fresh keypair and writes it to
// that path, replacing any existing content. If no path is configured at all
// it generates an ephemeral in-memory keypair (a single-process dev kernel).
func loadOrGenerateSigningKey(cfg config.SigningConfig) (*signing.Ed25519Signer, *signing.Ed25519Verifier, error) {
	if cfg.SigningKeyPath == "" {
		signer, verifier, err := signing.NewEd25519Signer("knhk-kernel-ephemeral")
		if err != nil {
			return nil, nil, err
		}
		return signer, verifier, nil
	}

	raw, err := os.ReadFile(cfg.SigningKeyPath)
	if err == nil && len(raw) == ed25519.PrivateKeySize {
		priv := ed25519.PrivateKey(raw)
		signer := signing.NewEd25519SignerFromKey(cfg.SigningKeyPath, priv)
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, nil, kherrors.New(kherrors.ErrorTypeFatal, "kernel: loaded signing key has no usable public half")
		}
		return signer, signing.NewEd25519Verifier(cfg.SigningKeyPath, pub), nil
	}

	signer, verifier, err := signing.NewEd25519Signer(cfg.SigningKeyPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(cfg.SigningKeyPath, signer.PrivateKeyBytes(), 0o600); err != nil {
		return nil, nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "kernel: persist freshly generated signing key")
	}
	return signer, verifier, nil
}
