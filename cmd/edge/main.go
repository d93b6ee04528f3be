package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/posedge/edge/pkg/activation"
	"github.com/posedge/edge/pkg/api"
	"github.com/posedge/edge/pkg/audit"
	"github.com/posedge/edge/pkg/bus"
	"github.com/posedge/edge/pkg/config"
	"github.com/posedge/edge/pkg/eventstore"
	"github.com/posedge/edge/pkg/health"
	"github.com/posedge/edge/pkg/log"
	"github.com/posedge/edge/pkg/metrics"
	"github.com/posedge/edge/pkg/orders"
	"github.com/posedge/edge/pkg/reconciler"
	"github.com/posedge/edge/pkg/security"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/supervisor"
	"github.com/posedge/edge/pkg/sync"
	"github.com/posedge/edge/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitError carries the specific exit code a failure should produce,
// per the CLI's documented exit code table, instead of collapsing
// every RunE error into a generic failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error { return &exitError{code: code, err: err} }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(config.ExitInternal)
	}
}

var rootCmd = &cobra.Command{
	Use:   "edge",
	Short: "Edge - the point-of-sale order core for a single store",
	Long: `Edge runs the order core, PKI/activation, message bus, and
Cloud sync worker for one store. It keeps taking orders while
disconnected from Cloud and reconciles state once reachable again.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Edge version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	startCmd.Flags().String("work-dir", "", "root of this edge's persisted state (required)")
	startCmd.Flags().Int("http-port", 8080, "admin API port")
	startCmd.Flags().Int("message-tcp-port", 9443, "message bus TCP/TLS port")
	startCmd.Flags().String("auth-server-url", "", "Cloud base URL used for activation and sync (required)")
	startCmd.Flags().String("environment", "production", "development, staging, or production")
	startCmd.Flags().String("edge-id", "", "this edge's identifier (required on every start; it also derives the key that decrypts the stored credential)")
	startCmd.Flags().String("log-level", "info", "debug, info, warn, error")
	startCmd.Flags().Bool("log-json", false, "emit logs as JSON")
	startCmd.Flags().String("activation-key", "", "one-time activation key; if set and no credential is persisted yet, activation runs before starting")

	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the edge daemon",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitWith(config.ExitConfigError, err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("edge")
	metrics.SetVersion(Version)

	layout := config.NewLayout(cfg.WorkDir)
	if err := os.MkdirAll(cfg.WorkDir, 0o700); err != nil {
		return exitWith(config.ExitConfigError, fmt.Errorf("create work dir: %w", err))
	}

	backing, err := storage.NewBoltStore(cfg.WorkDir)
	if err != nil {
		return exitWith(config.ExitStorageCorrupt, fmt.Errorf("open storage: %w", err))
	}
	defer backing.Close()
	metrics.RegisterComponent("storage", true, "bolt store opened")

	if err := eventstore.VerifyAllChains(backing); err != nil {
		return exitWith(config.ExitStorageCorrupt, fmt.Errorf("verify event chains: %w", err))
	}
	if result, err := audit.VerifyChain(backing); err != nil {
		return exitWith(config.ExitStorageCorrupt, fmt.Errorf("verify audit chain: %w", err))
	} else if !result.ChainIntact {
		logger.Warn().Int("breaks", len(result.Breaks)).Msg("audit chain has unresolved breaks from a prior run")
	}
	metrics.RegisterComponent("eventstore", true, "chain verified")

	edgeID, err := ensureActivated(cmd, cfg, backing, logger)
	if err != nil {
		return exitWith(config.ExitActivationNeeded, err)
	}
	cfg.EdgeID = edgeID

	entityCertPEM, entityKeyPEM, tenantID, entityID, err := activation.LoadCredential(backing)
	if err != nil {
		return exitWith(config.ExitActivationNeeded, fmt.Errorf("load entity credential: %w", err))
	}
	rootCAPEM, err := backing.GetCA(string(security.LevelRoot))
	if err != nil {
		return exitWith(config.ExitActivationNeeded, fmt.Errorf("load root CA: %w", err))
	}
	logger.Info().Str("tenant_id", tenantID).Str("entity_id", entityID).Msg("activated identity loaded")

	entityTLSCert, err := tls.X509KeyPair(entityCertPEM, entityKeyPEM)
	if err != nil {
		return exitWith(config.ExitInternal, fmt.Errorf("parse entity cert/key: %w", err))
	}
	rootPool := x509.NewCertPool()
	if !rootPool.AppendCertsFromPEM(rootCAPEM) {
		return exitWith(config.ExitInternal, fmt.Errorf("parse root CA cert"))
	}
	busTLSConfig := &tls.Config{
		Certificates: []tls.Certificate{entityTLSCert},
		ClientCAs:    rootPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
	syncTLSConfig := &tls.Config{
		Certificates: []tls.Certificate{entityTLSCert},
		RootCAs:      rootPool,
		MinVersion:   tls.VersionTLS13,
	}

	eventStore, err := eventstore.Open(backing)
	if err != nil {
		return exitWith(config.ExitStorageCorrupt, fmt.Errorf("open event store: %w", err))
	}
	manager := orders.NewManager(eventStore, backing, orders.DefaultDeps())
	auditChain, err := audit.Open(backing)
	if err != nil {
		return exitWith(config.ExitStorageCorrupt, fmt.Errorf("open audit chain: %w", err))
	}

	busServer := bus.NewServer()
	busServer.Handle = orders.NewBusHandler(manager)

	bindingJSON, err := backing.GetSignedBinding()
	if err != nil {
		return exitWith(config.ExitActivationNeeded, fmt.Errorf("load signed binding: %w", err))
	}
	degraded := func() bool {
		raw, err := backing.GetSignedBinding()
		if err != nil {
			return true
		}
		var binding types.SignedBinding
		if err := json.Unmarshal(raw, &binding); err != nil {
			return true
		}
		return security.EvaluateSubscription(binding.Subscription, time.Now()) != security.SubscriptionOK
	}
	collector := metrics.NewCollector(degraded)

	cloudCommands := &cloudCommandHandler{manager: manager, backing: backing}

	syncClient := sync.NewClient(cfg.AuthServerURL, string(bindingJSON), syncTLSConfig, 30*time.Second)
	syncWorker := sync.NewWorker(edgeID, backing, syncClient, cloudCommands.Execute, 200)
	syncWorker.Register(orders.NewSyncSource(manager))

	recon := reconciler.NewReconciler(manager, backing)
	apiServer := api.NewServer(manager, backing, auditChain, edgeID)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: apiServer.Router}

	sup := supervisor.New()
	sup.Add(supervisor.Task{
		Name: "bus-listen",
		Kind: supervisor.Warmup,
		Run: func(ctx context.Context) error {
			return busServer.Listen(fmt.Sprintf(":%d", cfg.MessageTCPPort), busTLSConfig)
		},
	})
	sup.Add(supervisor.Task{
		Name: "bus-serve",
		Kind: supervisor.Listener,
		Run: func(ctx context.Context) error {
			err := busServer.Serve()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
		Shutdown: func(ctx context.Context) error { return busServer.Close() },
	})
	sup.Add(supervisor.Task{
		Name: "bus-broadcast",
		Kind: supervisor.Worker,
		Run: func(ctx context.Context) error {
			orders.BroadcastEvents(manager, busServer, ctx.Done())
			return nil
		},
	})
	sup.Add(supervisor.Task{
		Name: "admin-api",
		Kind: supervisor.Listener,
		Run: func(ctx context.Context) error {
			metrics.RegisterComponent("api", true, "ready")
			err := httpServer.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		},
		Shutdown: func(ctx context.Context) error { return httpServer.Shutdown(ctx) },
	})
	sup.Add(supervisor.Task{
		Name:     "cloud-sync",
		Kind:     supervisor.Periodic,
		Interval: 30 * time.Second,
		Run:      syncWorker.RunOnce,
	})

	cloudMonitor := health.NewMonitor("cloud",
		health.NewHTTPChecker(cfg.AuthServerURL+"/health"),
		health.Config{Interval: 30 * time.Second, Timeout: 5 * time.Second, Retries: 3})
	busMonitor := health.NewMonitor("bus",
		health.NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", cfg.MessageTCPPort)),
		health.Config{Interval: 15 * time.Second, Timeout: 3 * time.Second, Retries: 2, StartPeriod: 2 * time.Second})

	collector.Start()
	recon.Start()
	cloudMonitor.Start()
	busMonitor.Start()
	defer recon.Stop()
	defer collector.Stop()
	defer cloudMonitor.Stop()
	defer busMonitor.Stop()

	logger.Info().
		Str("work_dir", cfg.WorkDir).
		Str("certs_dir", layout.CertsDir).
		Int("http_port", cfg.HTTPPort).
		Int("message_tcp_port", cfg.MessageTCPPort).
		Str("environment", cfg.Environment).
		Msg("edge starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sup.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-runErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("supervisor exited with error")
			return exitWith(config.ExitInternal, err)
		}
	}

	if err := sup.Shutdown(15 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
	logger.Info().Msg("edge stopped")
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	workDir, _ := cmd.Flags().GetString("work-dir")
	httpPort, _ := cmd.Flags().GetInt("http-port")
	messagePort, _ := cmd.Flags().GetInt("message-tcp-port")
	authURL, _ := cmd.Flags().GetString("auth-server-url")
	environment, _ := cmd.Flags().GetString("environment")
	edgeID, _ := cmd.Flags().GetString("edge-id")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg := config.Config{
		WorkDir:        workDir,
		HTTPPort:       httpPort,
		MessageTCPPort: messagePort,
		AuthServerURL:  authURL,
		Environment:    environment,
		EdgeID:         edgeID,
		LogLevel:       logLevel,
		LogJSON:        logJSON,
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ensureActivated checks for an already-persisted entity credential,
// running the one-time activation exchange against Cloud if
// --activation-key was supplied and none exists yet. It returns the
// edge's id once activated.
func ensureActivated(cmd *cobra.Command, cfg config.Config, backing storage.Store, logger zerolog.Logger) (string, error) {
	if cfg.EdgeID == "" {
		return "", fmt.Errorf("--edge-id is required")
	}
	if err := security.SetEdgeMasterKey(security.DeriveKeyFromEdgeID(cfg.EdgeID)); err != nil {
		return "", fmt.Errorf("set edge master key: %w", err)
	}

	if activation.IsActivated(backing) {
		return cfg.EdgeID, nil
	}

	activationKey, _ := cmd.Flags().GetString("activation-key")
	if activationKey == "" {
		return "", fmt.Errorf("no entity credential persisted and --activation-key not supplied; run again with --activation-key")
	}

	hardwareID, err := security.GenerateHardwareID()
	if err != nil {
		return "", fmt.Errorf("generate hardware id: %w", err)
	}

	client := activation.NewClient(cfg.AuthServerURL, 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Activate(ctx, types.ActivationRequest{
		ActivationKey: activationKey,
		HardwareID:    hardwareID,
		EdgeID:        cfg.EdgeID,
	})
	if err != nil {
		return "", fmt.Errorf("activate: %w", err)
	}

	if err := activation.Persist(backing, resp); err != nil {
		return "", fmt.Errorf("persist activation result: %w", err)
	}
	logger.Info().Str("tenant_id", resp.TenantID).Str("entity_id", resp.EntityID).Msg("activation completed")
	return cfg.EdgeID, nil
}

// cloudCommandHandler executes the read-only/safe pending_commands
// Cloud piggybacks on a sync response. Every CloudCommandType named in
// types.CloudCommandType has a handler here; an Edge never lets Cloud
// push a command that mutates order state through this channel — the
// order core's own write path (the message bus) is the only route to
// that, by construction.
type cloudCommandHandler struct {
	manager *orders.Manager
	backing storage.Store
}

// Execute dispatches one CloudCommand and reports its outcome for the
// next sync cycle's CommandResults.
func (h *cloudCommandHandler) Execute(ctx context.Context, cmd types.CloudCommand) types.CloudCommandResult {
	switch cmd.Type {
	case types.CloudCmdGetStatus:
		return types.CloudCommandResult{CommandID: cmd.CommandID, OK: true, Result: "running"}

	case types.CloudCmdGetOrderDetail:
		orderID := cmd.Params["order_id"]
		if orderID == "" {
			return errResult(cmd, "missing order_id param")
		}
		snapshot, err := h.manager.GetSnapshot(orderID)
		if err != nil {
			return errResult(cmd, fmt.Sprintf("load order %s: %v", orderID, err))
		}
		if snapshot == nil {
			return errResult(cmd, fmt.Sprintf("order %s not found", orderID))
		}
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return errResult(cmd, fmt.Sprintf("encode order %s: %v", orderID, err))
		}
		return types.CloudCommandResult{CommandID: cmd.CommandID, OK: true, Result: string(payload)}

	case types.CloudCmdRefreshSubscription:
		raw, err := h.backing.GetSignedBinding()
		if err != nil {
			return errResult(cmd, fmt.Sprintf("load signed binding: %v", err))
		}
		var binding types.SignedBinding
		if err := json.Unmarshal(raw, &binding); err != nil {
			return errResult(cmd, fmt.Sprintf("decode signed binding: %v", err))
		}
		// This command only reaches the edge after a successful sync
		// round-trip, so reaching here is itself the online contact
		// the offline check_clock_tampering rule requires before
		// last_verified_at is allowed to advance.
		binding.LastVerifiedAt = time.Now()
		updated, err := json.Marshal(binding)
		if err != nil {
			return errResult(cmd, fmt.Sprintf("encode signed binding: %v", err))
		}
		if err := h.backing.SaveSignedBinding(updated); err != nil {
			return errResult(cmd, fmt.Sprintf("save signed binding: %v", err))
		}
		return types.CloudCommandResult{CommandID: cmd.CommandID, OK: true, Result: "last_verified_at refreshed"}

	default:
		return errResult(cmd, fmt.Sprintf("no handler for cloud command %q", cmd.Type))
	}
}

func errResult(cmd types.CloudCommand, message string) types.CloudCommandResult {
	return types.CloudCommandResult{CommandID: cmd.CommandID, OK: false, Error: message}
}
