package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/syncdesk/syncdesk/internal/config"
	"github.com/syncdesk/syncdesk/internal/localstore"
	"github.com/syncdesk/syncdesk/internal/logging"
	"github.com/syncdesk/syncdesk/internal/remotestore"
	"github.com/syncdesk/syncdesk/internal/repository"
	"github.com/syncdesk/syncdesk/internal/session"
	"github.com/syncdesk/syncdesk/internal/stats"
)

var (
	localDB      string
	remoteDriver string
	remoteURL    string
	remoteDSN    string
	feedURL      string
	signingKey   string
	debugAddr    string
	logFile      string
	debug        bool
)

func main() {
	flag.StringVar(&localDB, "local-db", "", "path to the local sqlite cache (empty for in-memory)")
	flag.StringVar(&remoteDriver, "remote-driver", "", "remote backend driver: http or postgres")
	flag.StringVar(&remoteURL, "remote-url", "", "base URL of the REST backend")
	flag.StringVar(&remoteDSN, "remote-dsn", "", "connection string of the postgres backend")
	flag.StringVar(&feedURL, "feed-url", "", "websocket change feed URL")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded session signing key")
	flag.StringVar(&debugAddr, "debug-addr", "", "address for health and debug endpoints")
	flag.StringVar(&logFile, "log-file", "", "log file path (empty for stderr only)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	var cfg *config.Config
	var err error
	if remoteDriver != "" {
		cfg, err = config.New(localDB, remoteDriver, remoteURL, remoteDSN, feedURL, signingKey, debugAddr, logFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogFile, debug)

	local, err := openLocalStore(cfg)
	if err != nil {
		logger.Fatalf("open local store: %v", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logger.Errorf("close local store: %v", err)
		}
	}()

	// The remote store needs the current session's token, but the session
	// manager is built after the store. The closure resolves the cycle.
	var sessions *session.Manager
	tokenSource := func() string {
		if sessions == nil {
			return ""
		}
		if s := sessions.Current(); s != nil {
			return s.AccessToken
		}
		return ""
	}

	remote, feed, err := openRemote(cfg, tokenSource, logger)
	if err != nil {
		logger.Fatalf("open remote store: %v", err)
	}
	defer func() {
		if err := remote.Close(); err != nil {
			logger.Errorf("close remote store: %v", err)
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	repos := repository.New(logger, local, remote, statsUpdater)
	sessions = session.NewManager(logger, local, remote, repos.Users)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := repository.NewWatcher(logger, local, remote, feed, statsUpdater)
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("change feed: %v", err)
		}
	}()
	go watcher.Run(ctx)

	var debugSrv *http.Server
	if cfg.DebugAddr != "" {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		debugSrv = &http.Server{
			Addr:    cfg.DebugAddr,
			Handler: handlers.LoggingHandler(logger.Writer(), mux),
		}
		go func() {
			logger.Infof("debug server listening on %s", cfg.DebugAddr)
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("debug server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sessions.SignOut(shutdownCtx); err != nil && err != session.ErrNoSession {
		logger.Errorf("sign out: %v", err)
	}
	if debugSrv != nil {
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("debug server shutdown: %v", err)
		}
	}

	logger.Info("shutdown complete")
}

func openLocalStore(cfg *config.Config) (*localstore.Store, error) {
	if cfg.LocalDBPath == "" {
		return localstore.NewMemory()
	}
	return localstore.New(cfg.LocalDBPath)
}

func openRemote(cfg *config.Config, token remotestore.TokenSource, logger *logrus.Logger) (remotestore.RemoteStore, remotestore.ChangeFeed, error) {
	switch cfg.RemoteDriver {
	case config.DriverPostgres:
		store, err := remotestore.NewPgRemoteStore(cfg.RemoteDSN, cfg.SigningKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, remotestore.NewPgChangeFeed(cfg.RemoteDSN, logger), nil
	default:
		store := remotestore.NewRestRemoteStore(cfg.RemoteBaseURL, token, logger)
		return store, remotestore.NewWebsocketFeed(cfg.FeedURL, token, logger), nil
	}
}
