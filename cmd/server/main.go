package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatbridge-dev/chatbridge/internal/api"
	"github.com/chatbridge-dev/chatbridge/internal/auth"
	"github.com/chatbridge-dev/chatbridge/internal/auth/store"
	"github.com/chatbridge-dev/chatbridge/internal/config"
	"github.com/chatbridge-dev/chatbridge/internal/logging"
	"github.com/chatbridge-dev/chatbridge/internal/upstream"
	"github.com/chatbridge-dev/chatbridge/internal/watcher"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var version = "dev"

var (
	configPath   = flag.String("config", "config.yaml", "path to the YAML configuration file")
	doLogin      = flag.Bool("login", false, "run the browser login flow and exit")
	noBrowser    = flag.Bool("no-browser", false, "with -login, print the authorize URL instead of launching a browser")
	callbackPort = flag.Int("oauth-callback-port", 0, "with -login, preferred port for the local OAuth callback listener")
	port         = flag.Int("port", 0, "override the HTTP listening port")
	showVersion  = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatbridge %s\n", version)
		return
	}

	// A missing .env is fine; it only matters for local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}

	logging.Setup(cfg.Debug, cfg.LogDir)
	log.Infof("chatbridge %s starting", version)

	fileStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("credential store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *doLogin {
		runLogin(ctx, fileStore)
		return
	}

	var backend upstream.Backend
	if cfg.MockUpstream {
		log.Info("mock upstream enabled, serving scripted replies")
		backend = upstream.NewMock()
	} else {
		backend = upstream.NewClient(cfg, fileStore)
		if err = watcher.Watch(ctx, fileStore.Path(), func() {
			// The client re-reads the file on every request; validating here
			// surfaces a bad write as soon as it lands.
			if errCheck := fileStore.Validate(); errCheck != nil {
				log.Warnf("credentials updated on disk but unusable: %v", errCheck)
				return
			}
			log.Info("credentials updated on disk")
		}); err != nil {
			log.Warnf("credential file watcher unavailable: %v", err)
		}
	}

	if err = api.New(cfg, backend).Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Info("server stopped")
}

func openStore(cfg *config.Config) (*store.FileStore, error) {
	path := cfg.AuthFile
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return store.NewFileStore(path), nil
}

func runLogin(ctx context.Context, fileStore *store.FileStore) {
	creds, err := auth.Login(ctx, fileStore, auth.LoginOptions{
		NoBrowser:    *noBrowser,
		CallbackPort: *callbackPort,
	})
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	if creds.APIKey != "" {
		fmt.Println("Login successful: OAuth tokens and API key saved.")
	} else {
		fmt.Println("Login successful: OAuth tokens saved.")
	}
}
