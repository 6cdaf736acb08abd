package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chatterbox/internal/api"
	"chatterbox/internal/broadcast"
	"chatterbox/internal/config"
	"chatterbox/internal/database"
	"chatterbox/internal/directory"
	"chatterbox/internal/hub"
	"chatterbox/internal/media"
	"chatterbox/internal/presence"
	"chatterbox/internal/rooms"
	"chatterbox/internal/router"
	"chatterbox/internal/websocket"
	pkgdatabase "chatterbox/pkg/database"
)

const (
	writeBehindQueue  = 1024
	writeBehindWait   = 2 * time.Second
	rateLimitSweepGap = 5 * time.Minute
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      *database.WriteBehind
	directory  *directory.Store
	rooms      *rooms.Registry
	tracker    *presence.Tracker
	redis      *redis.Client
	registry   *websocket.Registry
	router     *router.Router
	messageHub *hub.Hub
	blobs      *media.FileStore
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	sweeper  sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Directory/Rooms → Presence → Registry/Fabric → Router → Hub → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager (migrations run inside NewManager) behind the
	// write-behind queue so the hub goroutine never waits on disk.
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	store := database.NewWriteBehind(dbManager, writeBehindQueue, writeBehindWait)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()

	// STEP 2: Directory and rooms, restored from disk
	dir := directory.NewStore(store)
	if err := dir.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}
	roomRegistry := rooms.NewRegistry(dir, store)
	if err := roomRegistry.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}

	// STEP 3: Presence, optionally mirrored to Redis
	var (
		rdb    *redis.Client
		mirror presence.Mirror
	)
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisMirror := presence.NewRedisMirror(rdb, cfg.Redis.KeyPrefix, cfg.Redis.Timeout)
		if err := redisMirror.Reset(ctx); err != nil {
			_ = rdb.Close()
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize presence mirror: %w", err)
		}
		mirror = redisMirror
		log.Printf("Presence mirrored to Redis at %s", cfg.Redis.Addr)
	}
	tracker := presence.NewTracker(nil, mirror)

	// STEP 4: Connection registry and the fan-out built on it
	registry := websocket.NewRegistry()
	fabric := broadcast.NewFabric(registry)
	roomRegistry.SetListener(fabric)
	tracker.SetNotifier(fabric)

	// STEP 5: Router and the hub that serialises calls into it
	messageRouter := router.NewRouter(router.Deps{
		Directory:   dir,
		Rooms:       roomRegistry,
		Presence:    tracker,
		Broadcaster: fabric,
		Sessions:    registry,
		RateLimiter: router.NewRateLimiter(cfg.Router.MessagesPerMinute),
	})
	messageHub := hub.NewHub(messageRouter)

	// STEP 6: Uploaded media
	blobs, err := media.NewFileStore(cfg.Media.UploadDir, cfg.Media.PublicPrefix, cfg.Media.MaxUploadBytes)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	// STEP 7: WebSocket handler and the HTTP API that mounts it
	wsHandler := websocket.NewHandler(registry, messageHub, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	apiServer := api.NewServer(api.Options{
		Directory:     dir,
		Rooms:         roomRegistry,
		Presence:      tracker,
		Executor:      messageHub,
		Stats:         registry,
		Database:      store,
		Blobs:         blobs,
		Uploads:       blobs.Handler(),
		UploadsPrefix: blobs.PublicPrefix(),
		WebSocket:     http.HandlerFunc(wsHandler.HandleWebSocket),
		// base64 inflates uploads by a third; leave room for the JSON around it.
		MaxBodyBytes: cfg.Media.MaxUploadBytes*4/3 + 64<<10,
	})

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		directory:  dir,
		rooms:      roomRegistry,
		tracker:    tracker,
		redis:      rdb,
		registry:   registry,
		router:     messageRouter,
		messageHub: messageHub,
		blobs:      blobs,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start listens on the configured address and begins serving.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve begins application execution on an existing listener.
// Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	log.Printf("Starting chatterbox on %s", ln.Addr())

	runCtx, cancel := context.WithCancel(context.Background())

	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(runCtx); err != nil {
		cancel()
		_ = ln.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	app.mu.Lock()
	app.listener = ln
	app.cancel = cancel
	app.mu.Unlock()

	// STEP 2: Periodic rate limiter cleanup, run on the hub like any mutation
	app.sweeper.Add(1)
	go app.sweepRateLimits(runCtx)

	// STEP 3: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Chatterbox started successfully")
		return nil
	case <-ctx.Done():
		_ = app.httpServer.Close()
		app.stopBackground()
		return ctx.Err()
	}
}

func (app *Application) sweepRateLimits(ctx context.Context) {
	defer app.sweeper.Done()

	ticker := time.NewTicker(rateLimitSweepGap)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var removed int
			if err := app.messageHub.Execute(ctx, func() { removed = app.router.CleanupRateLimits() }); err != nil {
				return
			}
			if removed > 0 {
				log.Printf("Rate limiter dropped %d idle users", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (app *Application) stopBackground() {
	app.mu.Lock()
	cancel := app.cancel
	app.cancel = nil
	app.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	app.sweeper.Wait()
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Message hub shutdown error: %v", err)
	}
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Sockets → Hub → Database → Redis
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down chatterbox")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Hijacked WebSocket connections are not covered by Shutdown
	for _, conn := range app.registry.Snapshot() {
		_ = conn.Close()
	}

	// STEP 3: Stop message processing
	app.stopBackground()

	// STEP 4: Drain queued writes and close the database
	if err := app.store.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			log.Printf("Redis shutdown error: %v", err)
		}
	}

	log.Printf("Chatterbox shutdown complete")
	return nil
}

// Addr returns the address actually being served, or the configured one
// before Serve.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP routing tree.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
