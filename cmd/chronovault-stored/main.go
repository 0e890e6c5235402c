package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/chronovault/internal/api"
	"github.com/celerix-dev/chronovault/internal/config"
	"github.com/celerix-dev/chronovault/internal/contract"
	"github.com/celerix-dev/chronovault/internal/inheritance"
	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/internal/server"
	"github.com/celerix-dev/chronovault/internal/vault"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chronovault-stored",
		Short:         "Chronovault daemon: dead man's switch state, store protocol and HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default: search chronovault.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the store protocol, the sweeper and the contract mirror",
		RunE:  runServe,
	}
	config.RegisterFlags(serveCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Manage the configuration file"}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("system", false, "write the system-wide file instead of the user one")
	initCmd.Flags().String("path", "", "write to this path")
	configCmd.AddCommand(initCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(serveCmd, configCmd, versionCmd)
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var path *string
	if cmd.Flags().Changed("config") {
		p, err := cmd.Flags().GetString("config")
		if err != nil {
			return config.Config{}, err
		}
		path = &p
	}
	c, err := config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	if err != nil {
		return c, fmt.Errorf("error loading config: %w", err)
	}
	return c, c.Validate()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		system, _ := cmd.Flags().GetBool("system")
		p, err := config.GetConfigPath(system)
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	c, err := config.LoadConfig[config.Config](nil, config.Defaults(), nil)
	if err != nil {
		return err
	}
	if err := config.WriteConfigFile(&c, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logging.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	key, err := cfg.MasterKey()
	if err != nil {
		return err
	}
	if key == nil {
		logging.Warnf("vault.master_key is empty; liveness references are stored unsealed")
	}

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()
	logging.Infof("storage backend %q ready", cfg.Storage.Backend)

	m := metrics.New()

	var mirror contract.Mirror = contract.LogMirror{}
	if cfg.Contract.RelayURL != "" {
		mirror = contract.NewHTTPMirror(cfg.Contract.RelayURL, cfg.Contract.Timeout)
	}
	dispatcher := contract.NewDispatcher(mirror, cfg.Contract.QueueSize, m)

	ctrl, err := inheritance.New(store, inheritance.Options{
		Policy:    cfg.PolicyDefaults(),
		MasterKey: key,
		Publisher: dispatcher,
		Metrics:   m,
	})
	if err != nil {
		return err
	}
	dispatcher.OnGiveUp(ctrl.Unmirrored)
	sweeper := inheritance.NewSweeper(ctrl, store, cfg.Sweeper.Interval, m)

	router := server.NewRouter(store)
	router.SetMetrics(m)
	router.Protect(schema.VaultFields()...)
	if !cfg.Server.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("failed to generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	} else {
		logging.Warnf("store protocol TLS disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := api.NewEngine(&api.Handler{Vault: ctrl, Store: store, Metrics: m})
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: cors.New(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return router.Listen(cfg.Server.StoreAddr) })
	g.Go(func() error {
		logging.Infof("HTTP API listening on %s", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := router.Stop(); err != nil {
			logging.Warnf("stop store protocol: %v", err)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
