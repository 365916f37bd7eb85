package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hangarlabs/hangar/pkg/deployer"
	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/resource"
	"github.com/hangarlabs/hangar/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// config is the deployer daemon configuration. Defaults come from the
// environment the gateway injects at container creation.
type config struct {
	State        string
	Work         string
	Address      string
	Project      string
	ProxyFQDN    string
	GatewayURI   string
	GatewayToken string
	RecorderURI  string
	LogLevel     string
	LogJSON      bool
}

func defaultConfig() config {
	return config{
		State:        types.DeployerStateDir,
		Work:         filepath.Join(types.DeployerStateDir, "builds"),
		Address:      fmt.Sprintf(":%d", types.UserServicePort),
		Project:      os.Getenv("HANGAR_PROJECT_NAME"),
		ProxyFQDN:    os.Getenv("HANGAR_PROXY_FQDN"),
		GatewayURI:   os.Getenv("HANGAR_API"),
		GatewayToken: os.Getenv("HANGAR_GATEWAY_TOKEN"),
		LogLevel:     "info",
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg = defaultConfig()

var rootCmd = &cobra.Command{
	Use:   "hangar-deployer",
	Short: "Hangar deployer - the per-project deploy service",
	Long: `The deployer runs inside each project container. It accepts deploy
archives, builds and supervises the service, and forwards user traffic
to it.`,
	Version: Version,
	RunE:    runDeployer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hangar deployer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	f := rootCmd.Flags()
	f.StringVar(&cfg.State, "state", cfg.State, "State directory for the database")
	f.StringVar(&cfg.Work, "work", cfg.Work, "Directory for per-deployment build workdirs")
	f.StringVar(&cfg.Address, "address", cfg.Address, "Listen address")
	f.StringVar(&cfg.Project, "project", cfg.Project, "Project this deployer serves")
	f.StringVar(&cfg.ProxyFQDN, "proxy-fqdn", cfg.ProxyFQDN, "Public wildcard domain")
	f.StringVar(&cfg.GatewayURI, "gateway-uri", cfg.GatewayURI, "Gateway control URI for build slots")
	f.StringVar(&cfg.GatewayToken, "gateway-token", cfg.GatewayToken, "Bearer token with deployment write scope")
	f.StringVar(&cfg.RecorderURI, "resource-recorder-uri", cfg.RecorderURI, "Resource recorder base URI")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Emit JSON logs")
}

func runDeployer(cmd *cobra.Command, args []string) error {
	if cfg.Project == "" {
		return errors.New("--project is required (or HANGAR_PROJECT_NAME)")
	}
	if cfg.GatewayURI == "" {
		return errors.New("--gateway-uri is required (or HANGAR_API)")
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON, Output: os.Stderr})
	logger := log.WithComponent("deployer")

	for _, dir := range []string{cfg.State, cfg.Work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	store, err := deployer.NewStore(cfg.State)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := deployer.NewRecorder(store)
	slots := deployer.NewGatewaySlots(cfg.GatewayURI, cfg.GatewayToken)
	manager := deployer.NewManager(store, recorder, slots,
		deployer.NewTarGzBuilder(), deployer.NewExecRunner(), cfg.Work)
	manager.Start()
	defer manager.Stop()

	resources := resource.NewBroker(cfg.RecorderURI)
	router := deployer.NewRouter(store, manager, recorder, resources, cfg.Project, cfg.ProxyFQDN)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.Address, Handler: router.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Address).Str("project", cfg.Project).Msg("Deployer listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
