// SyncParty session server
// License AGPL3

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	flag "github.com/spf13/pflag"

	"github.com/opensyncparty/syncparty/internal/auth"
	"github.com/opensyncparty/syncparty/internal/party"
	"github.com/opensyncparty/syncparty/store"
	memstore "github.com/opensyncparty/syncparty/store/mem"
	redisstore "github.com/opensyncparty/syncparty/store/redis"
)

var (
	logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	hub    *party.Hub
	cfg    *party.Config
	auth   auth.Validator
	logger *log.Logger
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, f := range cFiles {
		log.Printf("reading config: %s", f)
		if err := ko.Load(file.Provider(f), toml.Parser()); err != nil {
			log.Printf("error reading config: %v", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("SYNCPARTY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SYNCPARTY_")), "__", ".", -1)
	}), nil); err != nil {
		log.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

// applyDefaults fills config fields that zero values would break.
func applyDefaults(cfg *party.Config) {
	if cfg.Address == "" {
		cfg.Address = ":3000"
	}
	if cfg.WSTimeout <= 0 {
		cfg.WSTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = 64 << 10
	}
	if cfg.MaxMessageQueue <= 0 {
		cfg.MaxMessageQueue = 256
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = time.Hour
	}
	if cfg.MaxInviteTTL <= 0 {
		cfg.MaxInviteTTL = 24 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 6 * time.Hour
	}
}

// initStore initializes the invite/session store backend named in the
// config: "redis" or the in-memory default.
func initStore() store.Store {
	switch ko.String("store.backend") {
	case "redis":
		var cfg redisstore.Config
		if err := ko.Unmarshal("store.redis", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.redis' config: %v", err)
		}
		s, err := redisstore.New(cfg)
		if err != nil {
			logger.Fatalf("error initializing redis store: %v", err)
		}
		return s
	default:
		s, err := memstore.New(memstore.Config{})
		if err != nil {
			logger.Fatalf("error initializing memory store: %v", err)
		}
		return s
	}
}

// Catch OS interrupts and respond accordingly.
// This is not fool proof as http keeps listening while
// existing rooms are shut down.
func catchInterrupts() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range c {
			logger.Printf("shutting down: %v", sig)
			os.Exit(0)
		}
	}()
}

func main() {
	// Load configuration from files.
	loadConfig()

	// Initialize global app context.
	app := &App{
		logger: logger,
	}
	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}
	if app.cfg == nil {
		app.cfg = &party.Config{}
	}
	applyDefaults(app.cfg)

	var authCfg auth.Config
	if err := ko.Unmarshal("auth", &authCfg); err != nil {
		logger.Fatalf("error unmarshalling 'auth' config: %v", err)
	}
	app.auth = auth.New(authCfg, logger)

	app.hub = party.NewHub(app.cfg, initStore(), app.auth, logger)

	catchInterrupts()

	// Register HTTP routes.
	r := chi.NewRouter()
	r.Get("/ws", wrap(handleWS, app))
	r.Get("/health", wrap(handleHealth, app))

	// Start the app.
	srv := &http.Server{
		Addr:    app.cfg.Address,
		Handler: r,
	}
	logger.Printf("starting server on %v", app.cfg.Address)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("couldn't start server: %v", err)
	}
}
