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
	"gopkg.in/yaml.v3"

	"github.com/hangarlabs/hangar/pkg/acme"
	"github.com/hangarlabs/hangar/pkg/admission"
	"github.com/hangarlabs/hangar/pkg/api"
	"github.com/hangarlabs/hangar/pkg/auth"
	"github.com/hangarlabs/hangar/pkg/client"
	"github.com/hangarlabs/hangar/pkg/health"
	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/project"
	"github.com/hangarlabs/hangar/pkg/proxy"
	"github.com/hangarlabs/hangar/pkg/resolver"
	"github.com/hangarlabs/hangar/pkg/resource"
	"github.com/hangarlabs/hangar/pkg/runtime"
	"github.com/hangarlabs/hangar/pkg/scheduler"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// config is the gateway daemon configuration. Flags override the file.
type config struct {
	State   string `yaml:"state"`
	Control string `yaml:"control"`
	User    string `yaml:"user"`
	Bouncer string `yaml:"bouncer"`
	UseTLS  bool   `yaml:"use_tls"`

	AuthURI     string `yaml:"auth_uri"`
	AdminKey    string `yaml:"admin_key"`
	ProxyFQDN   string `yaml:"proxy_fqdn"`
	RecorderURI string `yaml:"resource_recorder_uri"`

	DeployerImage    string `yaml:"deployer_image"`
	MaxContainers    int    `yaml:"max_containers"`
	MaxCCHContainers int    `yaml:"max_cch_containers"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

func defaultConfig() config {
	return config{
		State:         "/var/lib/hangar",
		Control:       ":8001",
		User:          ":8443",
		Bouncer:       ":80",
		UseTLS:        true,
		DeployerImage: "hangarlabs/deployer:latest",
		LogLevel:      "info",
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg = defaultConfig()
var configFile string

var rootCmd = &cobra.Command{
	Use:   "hangar-gateway",
	Short: "Hangar gateway - the platform control plane",
	Long: `The gateway owns project records, drives their container lifecycle,
terminates TLS for user traffic and proxies it to per-project deployers.`,
	Version: Version,
	RunE:    runGateway,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hangar gateway version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	f := rootCmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML config file, flags take precedence")
	f.StringVar(&cfg.State, "state", cfg.State, "State directory for the database and TLS material")
	f.StringVar(&cfg.Control, "control", cfg.Control, "Control (management API) listen address")
	f.StringVar(&cfg.User, "user", cfg.User, "User traffic listen address")
	f.StringVar(&cfg.Bouncer, "bouncer", cfg.Bouncer, "Plaintext bouncer listen address")
	f.BoolVar(&cfg.UseTLS, "use-tls", cfg.UseTLS, "Terminate TLS on the user listener")
	f.StringVar(&cfg.AuthURI, "auth-uri", cfg.AuthURI, "Auth service base URI")
	f.StringVar(&cfg.AdminKey, "admin-key", cfg.AdminKey, "Shared secret for /admin routes")
	f.StringVar(&cfg.ProxyFQDN, "proxy-fqdn", cfg.ProxyFQDN, "Public wildcard domain")
	f.StringVar(&cfg.RecorderURI, "resource-recorder-uri", cfg.RecorderURI, "Resource recorder base URI")
	f.StringVar(&cfg.DeployerImage, "deployer-image", cfg.DeployerImage, "Image project containers run")
	f.IntVar(&cfg.MaxContainers, "max-containers", cfg.MaxContainers, "Global container budget, 0 disables")
	f.IntVar(&cfg.MaxCCHContainers, "max-cch-containers", cfg.MaxCCHContainers, "CCH container budget, 0 disables")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Emit JSON logs")
}

// loadConfig layers the YAML file under the defaults and lets explicitly
// set flags win.
func loadConfig(cmd *cobra.Command) error {
	if configFile == "" {
		return nil
	}
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	fileCfg := cfg
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	flagCfg := cfg
	cfg = fileCfg
	// restore values the user set on the command line
	if cmd.Flags().Changed("state") {
		cfg.State = flagCfg.State
	}
	if cmd.Flags().Changed("control") {
		cfg.Control = flagCfg.Control
	}
	if cmd.Flags().Changed("user") {
		cfg.User = flagCfg.User
	}
	if cmd.Flags().Changed("bouncer") {
		cfg.Bouncer = flagCfg.Bouncer
	}
	if cmd.Flags().Changed("use-tls") {
		cfg.UseTLS = flagCfg.UseTLS
	}
	if cmd.Flags().Changed("auth-uri") {
		cfg.AuthURI = flagCfg.AuthURI
	}
	if cmd.Flags().Changed("admin-key") {
		cfg.AdminKey = flagCfg.AdminKey
	}
	if cmd.Flags().Changed("proxy-fqdn") {
		cfg.ProxyFQDN = flagCfg.ProxyFQDN
	}
	if cmd.Flags().Changed("resource-recorder-uri") {
		cfg.RecorderURI = flagCfg.RecorderURI
	}
	if cmd.Flags().Changed("deployer-image") {
		cfg.DeployerImage = flagCfg.DeployerImage
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if cfg.ProxyFQDN == "" {
		return errors.New("--proxy-fqdn is required")
	}
	if cfg.AuthURI == "" {
		return errors.New("--auth-uri is required")
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON, Output: os.Stderr})
	logger := log.WithComponent("gateway")

	if err := os.MkdirAll(cfg.State, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.State)
	if err != nil {
		return err
	}
	defer store.Close()

	containerRuntime, err := runtime.NewDockerRuntime()
	if err != nil {
		return err
	}

	projectCfg := project.DefaultConfig()
	projectCfg.Image = cfg.DeployerImage
	projectCfg.ProxyFQDN = cfg.ProxyFQDN
	projectCfg.AuthURI = cfg.AuthURI
	projectCfg.APIAddress = cfg.Control
	env := &project.Env{Runtime: containerRuntime, Config: projectCfg}

	adm := admission.NewController(store, containerRuntime, admission.Config{
		MaxContainers:    cfg.MaxContainers,
		MaxCCHContainers: cfg.MaxCCHContainers,
	})

	resources := resource.NewBroker(cfg.RecorderURI)
	service := api.NewService(store, env, adm, client.NewDeployerClient(), resources, cfg.ProxyFQDN)

	taskWorker := worker.NewTaskWorker(service, store)
	service.BindWorker(taskWorker)
	taskWorker.Start()
	defer taskWorker.Stop()

	sched := scheduler.NewScheduler(store, taskWorker)
	sched.Start()
	defer sched.Stop()

	challenges := acme.NewChallengeMap()
	acmeDriver := acme.NewDriver(store, challenges)

	certs := resolver.NewCertResolver()
	if err := serveDefaultCert(certs); err != nil {
		return err
	}
	if err := certs.Warm(cmd.Context(), store); err != nil {
		logger.Warn().Err(err).Msg("Failed to warm certificate resolver")
	}

	verifier := auth.NewVerifier(auth.NewRemoteKeySource(cfg.AuthURI))
	load := api.NewLoadMonitor()

	status := api.NewStatusAggregator()
	status.Register("worker", func(ctx context.Context) health.Result {
		return health.Result{Healthy: taskWorker.HasCapacity(), Message: "task queue headroom"}
	})
	status.RegisterHTTP("auth", cfg.AuthURI)
	if cfg.RecorderURI != "" {
		status.RegisterHTTP("resource-recorder", cfg.RecorderURI)
	}

	router := api.NewRouter(service, store, verifier, acmeDriver, certs, load, status, cfg.AdminKey, newDeployerProxy(service))
	userProxy := proxy.NewUserProxy(service, store, cfg.ProxyFQDN)
	bouncer := proxy.NewBouncer(challenges, store, cfg.ProxyFQDN)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controlSrv := &http.Server{Addr: cfg.Control, Handler: router.Handler()}
	userSrv := &http.Server{Addr: cfg.User, Handler: userProxy}
	bouncerSrv := &http.Server{Addr: cfg.Bouncer, Handler: bouncer}
	if cfg.UseTLS {
		userSrv.TLSConfig = certs.TLSConfig()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Control).Msg("Control listener up")
		return ignoreClosed(controlSrv.ListenAndServe())
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.User).Bool("tls", cfg.UseTLS).Msg("User listener up")
		if cfg.UseTLS {
			// certs come from the resolver, not from files
			return ignoreClosed(userSrv.ListenAndServeTLS("", ""))
		}
		return ignoreClosed(userSrv.ListenAndServe())
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Bouncer).Msg("Bouncer listener up")
		return ignoreClosed(bouncerSrv.ListenAndServe())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		controlSrv.Shutdown(shutdownCtx)
		userSrv.Shutdown(shutdownCtx)
		bouncerSrv.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

// serveDefaultCert loads the wildcard certificate from the state
// directory when present. The file carries both the chain and the key.
func serveDefaultCert(certs *resolver.CertResolver) error {
	path := filepath.Join(cfg.State, "ssl.pem")
	pemBytes, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.WithComponent("gateway").Warn().Str("path", path).
			Msg("No gateway certificate on disk, TLS needs an admin renewal to work")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read gateway certificate: %w", err)
	}
	if err := certs.ServeDefault(pemBytes, pemBytes); err != nil {
		return fmt.Errorf("failed to load gateway certificate: %w", err)
	}
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
