package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/config"
	"github.com/cuemby/relay/pkg/intake"
	"github.com/cuemby/relay/pkg/kvstore"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/orchestrator"
	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/remoteasg"
	"github.com/cuemby/relay/pkg/store"
	"github.com/cuemby/relay/pkg/tracker"
	"github.com/cuemby/relay/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay - deployment orchestrator for cloud auto-scaling groups",
	Long: `relay drives a fixed, multi-step pipeline against a remote ASG
management service to roll a machine image out across an application's
environments, enforcing at-most-one-deployment-per-(application,
environment, region) and surviving restarts.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Address of a running relay serve instance")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake HTTP server, the orchestrator worker pool, and the metrics endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "", "bbolt deployment store data directory (overrides RELAY_DATA_DIR)")
	serveCmd.Flags().String("redis-addr", "", "coordination store address (overrides RELAY_REDIS_ADDR)")
	serveCmd.Flags().String("vpc-id", "", "VPC id new ASGs are created in (overrides RELAY_VPC_ID)")
	serveCmd.Flags().String("config-service-url", "", "configuration service base URL (overrides RELAY_CONFIG_SERVICE_URL)")
	serveCmd.Flags().String("remote-base-url", "", "remote ASG management service base URL for this process's environment")
	serveCmd.Flags().String("http-addr", "", "intake HTTP listen address (overrides RELAY_HTTP_ADDR)")
	serveCmd.Flags().String("metrics-addr", "", "metrics listen address (overrides RELAY_METRICS_ADDR)")
	serveCmd.Flags().Int("queue-threads", 0, "work queue worker-pool size")
	serveCmd.Flags().String("default-environment", "staging", "environment assumed when a deploy request omits one")
	serveCmd.Flags().String("default-region", "us-east-1", "region assumed when a deploy request omits one")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.ApplyEnv()

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.RedisAddr = v
	}
	if v, _ := cmd.Flags().GetString("vpc-id"); v != "" {
		cfg.VPCID = v
	}
	if v, _ := cmd.Flags().GetString("config-service-url"); v != "" {
		cfg.ConfigServiceURL = v
	}
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, _ := cmd.Flags().GetInt("queue-threads"); v != 0 {
		cfg.QueueThreads = v
	}
	defaultEnv, _ := cmd.Flags().GetString("default-environment")
	defaultRegion, _ := cmd.Flags().GetString("default-region")
	remoteBaseURL, _ := cmd.Flags().GetString("remote-base-url")
	if remoteBaseURL != "" {
		cfg.RemoteBaseURLs[defaultEnv] = remoteBaseURL
	}

	if cfg.VPCID == "" {
		return fmt.Errorf("--vpc-id (or RELAY_VPC_ID) is required")
	}
	if cfg.ConfigServiceURL == "" {
		return fmt.Errorf("--config-service-url (or RELAY_CONFIG_SERVICE_URL) is required")
	}
	remoteURL, err := cfg.RemoteBaseURL(defaultEnv)
	if err != nil {
		return err
	}

	fmt.Println("Starting relay...")
	fmt.Printf("  Data directory: %s\n", cfg.DataDir)
	fmt.Printf("  Redis: %s (prefix %s)\n", cfg.RedisAddr, cfg.RedisPrefix)
	fmt.Printf("  VPC: %s\n", cfg.VPCID)

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open deployment store: %w", err)
	}

	kv := kvstore.New(kvstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
	defer kv.Close()

	remote := remoteasg.NewClient(remoteURL)
	tr := tracker.New()

	resolveSG := func(ctx context.Context, region, name string) (string, error) {
		return name, nil
	}

	orch := &orchestratorHolder{}
	engine := pipeline.New(st, remote, tr, cfg.VPCID, resolveSG, orch.boundary, orch.finalize)
	o := orchestrator.New(kv, st, engine)
	orch.o = o
	fmt.Println("✓ Pipeline engine and orchestrator wired")

	if err := o.Sweep(context.Background()); err != nil {
		fmt.Printf("Warning: restart sweep failed: %v\n", err)
	} else {
		fmt.Println("✓ Restart sweep complete")
	}

	queueOpts := kvstore.DefaultQueueOptions()
	queueOpts.Threads = cfg.QueueThreads
	queueOpts.LockMS = int(cfg.QueueLease.Milliseconds())
	queueOpts.BackoffMS = int(cfg.QueueBackoff.Milliseconds())
	consumer := kv.NewConsumer(queueOpts, o.ConsumeIntake)
	consumer.Start()
	fmt.Printf("✓ Work queue consumer started (%d threads)\n", cfg.QueueThreads)

	configSource := intake.NewHTTPConfigSource(cfg.ConfigServiceURL)
	intaker := intake.New(st, kv, configSource.Fetch)

	srv := intake.NewServer(intaker,
		func(ctx context.Context) (bool, error) { return kv.Locked(ctx) },
		func(ctx context.Context, application, environment, region string) (bool, error) {
			key := application + "-" + environment + "-" + region
			_, ok, err := kv.InProgressID(ctx, key)
			return ok, err
		},
		defaultEnv, defaultRegion,
	)
	adminMux := srv.Mux()
	adminMux.HandleFunc("/admin/pause", adminHandler(o.Pause))
	adminMux.HandleFunc("/admin/resume", adminHandler(o.Resume))
	adminMux.HandleFunc("/admin/cancel", adminHandler(o.Cancel))
	adminMux.HandleFunc("/admin/status", func(w http.ResponseWriter, r *http.Request) {
		d, err := o.StatusByKey(r.Context(), r.FormValue("application"), r.FormValue("environment"), r.FormValue("region"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d)
	})

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: adminMux}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("intake server error: %w", err)
		}
	}()
	fmt.Printf("✓ Intake HTTP listening on %s\n", cfg.HTTPAddr)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "ready")
	if err := kv.Ping(context.Background()); err != nil {
		metrics.RegisterComponent("kvstore", false, err.Error())
	} else {
		metrics.RegisterComponent("kvstore", true, "ready")
	}
	metrics.RegisterComponent("orchestrator", true, "ready")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.MetricsAddr)
	fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", cfg.MetricsAddr)

	fmt.Println()
	fmt.Println("relay is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	consumer.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := st.Close(); err != nil {
		fmt.Printf("Warning: store close failed: %v\n", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// orchestratorHolder breaks the construction cycle between pipeline.New
// (which needs the boundary/finalize hooks up front) and orchestrator.New
// (which needs the already-constructed engine).
type orchestratorHolder struct {
	o *orchestrator.Orchestrator
}

func (h *orchestratorHolder) boundary(ctx context.Context, d *types.Deployment) (pipeline.BoundaryDecision, error) {
	return h.o.Boundary(ctx, d)
}

func (h *orchestratorHolder) finalize(ctx context.Context, d *types.Deployment) error {
	return h.o.Finalize(ctx, d)
}

func adminHandler(fn func(ctx context.Context, application, environment, region string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		err := fn(r.Context(), r.FormValue("application"), r.FormValue("environment"), r.FormValue("region"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Submit a deployment request against a running serve instance",
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().String("application", "", "application name (required)")
	deployCmd.Flags().String("environment", "", "environment name (required)")
	deployCmd.Flags().String("region", "", "region name (required)")
	deployCmd.Flags().String("user", "", "operator requesting the deployment (required)")
	deployCmd.Flags().String("ami", "", "machine image id (required)")
	deployCmd.Flags().String("message", "", "free-form deployment message")
	deployCmd.MarkFlagRequired("application")
	deployCmd.MarkFlagRequired("environment")
	deployCmd.MarkFlagRequired("region")
	deployCmd.MarkFlagRequired("user")
	deployCmd.MarkFlagRequired("ami")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	server, _ := rootCmd.PersistentFlags().GetString("server")
	application, _ := cmd.Flags().GetString("application")
	environment, _ := cmd.Flags().GetString("environment")
	region, _ := cmd.Flags().GetString("region")
	user, _ := cmd.Flags().GetString("user")
	ami, _ := cmd.Flags().GetString("ami")
	message, _ := cmd.Flags().GetString("message")

	form := url.Values{
		"environment": {environment},
		"region":      {region},
		"user":        {user},
		"ami":         {ami},
		"message":     {message},
	}

	resp, err := http.PostForm(fmt.Sprintf("%s/%s/deploy", server, application), form)
	if err != nil {
		return fmt.Errorf("submit deploy request: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("deploy rejected (%d): %s", resp.StatusCode, body["error"])
	}

	fmt.Printf("✓ Deployment accepted: %s\n", body["id"])
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the deployment currently in progress or paused for an application/environment/region",
	RunE:  runCoordinationAction("status", "admin/status"),
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Request the in-flight deployment pause at its next task boundary",
	RunE:  runCoordinationAction("pause", "admin/pause"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused deployment",
	RunE:  runCoordinationAction("resume", "admin/resume"),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Request the in-flight deployment be cancelled at its next task boundary",
	RunE:  runCoordinationAction("cancel", "admin/cancel"),
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, pauseCmd, resumeCmd, cancelCmd} {
		c.Flags().String("application", "", "application name (required)")
		c.Flags().String("environment", "", "environment name (required)")
		c.Flags().String("region", "", "region name (required)")
		c.MarkFlagRequired("application")
		c.MarkFlagRequired("environment")
		c.MarkFlagRequired("region")
	}
}

func runCoordinationAction(label, path string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		server, _ := rootCmd.PersistentFlags().GetString("server")
		application, _ := cmd.Flags().GetString("application")
		environment, _ := cmd.Flags().GetString("environment")
		region, _ := cmd.Flags().GetString("region")

		form := url.Values{"application": {application}, "environment": {environment}, "region": {region}}
		u := fmt.Sprintf("%s/%s?%s", server, path, form.Encode())

		var resp *http.Response
		var err error
		if strings.HasSuffix(path, "status") {
			resp, err = http.Get(u)
		} else {
			resp, err = http.Post(fmt.Sprintf("%s/%s", server, path), "application/x-www-form-urlencoded", bytes.NewBufferString(form.Encode()))
		}
		if err != nil {
			return fmt.Errorf("%s request failed: %w", label, err)
		}
		defer resp.Body.Close()

		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s failed (%d): %s", label, resp.StatusCode, buf.String())
		}

		fmt.Println(buf.String())
		return nil
	}
}
