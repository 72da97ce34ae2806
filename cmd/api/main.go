package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"jiralink.dev/internal/access"
	"jiralink.dev/internal/auth"
	"jiralink.dev/internal/config"
	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/httpapi"
	"jiralink.dev/internal/jira"
	"jiralink.dev/internal/lock"
	"jiralink.dev/internal/obs"
	"jiralink.dev/internal/projects"
	"jiralink.dev/internal/secretbox"
	"jiralink.dev/internal/store/pg"
	"jiralink.dev/internal/tenant"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	credentials credentials.Store
	projects    projects.Store
	access      access.Store
	directory   tenant.Directory
}

func main() {
	logger := obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(os.Getenv("JIRALINK_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(cfg.AuthSecret)
	if err != nil {
		logger.Error("auth verifier", "error", err)
		os.Exit(1)
	}

	var sealer secretbox.Sealer = secretbox.Plain{}
	if cfg.SealKey != "" {
		box, err := secretbox.NewFromBase64(cfg.SealKey)
		if err != nil {
			logger.Error("seal key", "error", err)
			os.Exit(1)
		}
		sealer = box
	} else {
		logger.Warn("seal_key not set; credentials are stored unsealed")
	}

	ready := httpapi.ReadyProbe{}
	var st stores
	var db *pg.Store
	if cfg.DatabaseDSN != "" {
		db, err = pg.Open(cfg.DatabaseDSN, pg.WithSealer(sealer))
		if err != nil {
			logger.Error("open db", "error", err)
			os.Exit(1)
		}
		st = stores{
			credentials: db.Credentials(),
			projects:    db.Projects(),
			access:      db.AccessRequests(),
			directory:   db.Directory(),
		}
		ready.DB = db
	} else {
		logger.Warn("database_dsn not set; using in-memory stores")
		st = stores{
			credentials: credentials.NewMemory(),
			projects:    projects.NewMemory(),
			access:      access.NewMemory(),
			directory:   tenant.NewMemory(),
		}
	}

	var locker lock.Locker = lock.NewLocal()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rl := lock.NewRedis(rdb)
		locker = rl
		ready.Redis = rl
	}

	provider := jira.NewClient(jira.Endpoints{
		AuthURL:     cfg.Jira.AuthURL,
		TokenURL:    cfg.Jira.TokenURL,
		APIBaseURL:  cfg.Jira.APIBaseURL,
		RedirectURL: cfg.Jira.RedirectURL,
	},
		jira.WithTimeout(cfg.Jira.Timeout),
		jira.WithRateLimit(cfg.Jira.RequestsPerSecond, int(cfg.Jira.RequestsPerSecond)+1),
		jira.WithLogger(logger),
	)

	refresher := credentials.NewRefresher(st.credentials, provider,
		credentials.WithLocker(locker),
		credentials.WithAppClient(jira.ClientCredentials{ClientID: cfg.Jira.ClientID, ClientSecret: cfg.Jira.ClientSecret}),
	)

	api := httpapi.New(httpapi.Deps{
		Tokens:              verifier,
		Credentials:         st.credentials,
		Refresher:           refresher,
		CloudIDs:            credentials.NewResolver(st.credentials, refresher, provider),
		Sync:                projects.NewSynchronizer(st.credentials, refresher, provider, st.projects),
		Access:              access.NewWorkflow(st.access, st.projects, st.credentials, st.directory),
		Directory:           st.directory,
		Ready:               ready,
		Version:             version,
		CallbackRedirectURL: cfg.CallbackRedirectURL,
		RateBurst:           cfg.RateBurst,
		RatePerSec:          cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	httpapi.NewGRPCServer(ready).Register(grpcServer)

	logger.Info("starting jiralink-api", "version", version, "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listen", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("grpc listen", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc serve", "error", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcServer.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("stopped")
}
