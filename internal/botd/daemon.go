// Package botd wires the action queue to its event sources and observers
// and serves them over HTTP, websocket and gRPC.
package botd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/audio"
	"github.com/fitzbot/fitzbot/internal/chat"
	"github.com/fitzbot/fitzbot/internal/config"
	"github.com/fitzbot/fitzbot/internal/db"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/fitzbot/fitzbot/internal/events"
	"github.com/fitzbot/fitzbot/internal/hub"
	"github.com/fitzbot/fitzbot/internal/lights"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/fitzbot/fitzbot/internal/lookup"
	"github.com/fitzbot/fitzbot/internal/paypal"
	"github.com/fitzbot/fitzbot/internal/ratelimit"
	"github.com/fitzbot/fitzbot/internal/variables"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNoEventMap is returned when no events document can be found.
var ErrNoEventMap = errors.New("no event map document found")

const shutdownTimeout = 5 * time.Second

// Options configure the daemon runtime.
type Options struct {
	Version string

	// ProjectDir anchors the event map search when events.path is empty.
	ProjectDir string

	// HTTPClient is used for the light bridge, YouTube and PayPal.
	HTTPClient *http.Client

	// Chat overrides the outgoing chat sender. Defaults to the log.
	Chat actions.ChatSender
}

// Daemon is the long-running bot process.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options

	eventsPath  string
	globalsPath string
	startedAt   time.Time

	queue     *actions.Queue
	variables *variables.Table
	hub       *hub.Hub
	parser    *chat.Parser
	announcer *chat.Announcer
	paypal    *paypal.Notifier
	youtube   *lookup.YouTube
	fireLimit *ratelimit.Limiter
	store     *db.DB
	journal   *db.EventRepository

	router     *gin.Engine
	grpcServer *grpc.Server
	health     *health.Server

	ready    chan struct{}
	httpAddr string
	grpcAddr string
}

// New constructs a daemon. The event map is loaded eagerly so configuration
// errors surface before anything listens.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		opts:      opts,
		startedAt: time.Now().UTC(),
		ready:     make(chan struct{}),
	}

	eventsPath, globalsPath, err := ResolveEventMap(cfg.Events, opts.ProjectDir)
	if err != nil {
		return nil, err
	}
	d.eventsPath, d.globalsPath = eventsPath, globalsPath

	snapshot, err := eventmap.Load(eventsPath, globalsPath)
	if err != nil {
		return nil, fmt.Errorf("load event map: %w", err)
	}

	if cfg.Journal.Path != "" {
		store, err := db.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		if _, err := store.MigrateUp(context.Background()); err != nil {
			_ = store.Close()
			return nil, err
		}
		d.store = store
		d.journal = db.NewEventRepository(store)
		if cfg.Journal.Retention > 0 {
			removed, err := d.journal.Prune(context.Background(), time.Now().Add(-cfg.Journal.Retention))
			if err != nil {
				logger.Warn().Err(err).Msg("failed to prune journal")
			} else if removed > 0 {
				logger.Info().Int64("removed", removed).Msg("pruned journal")
			}
		}
	}

	d.variables = variables.New(variables.WithLogger(logging.Component("variables")))
	d.hub = hub.New(
		hub.WithHandler(d.variables.HandleMessage),
		hub.WithLogger(logging.Component("hub")),
	)
	d.variables.SetBroadcaster(d.hub)

	sender := opts.Chat
	if sender == nil {
		sender = chat.LogSender{Channel: chat.Channel(cfg.Chat.Channel), Logger: logging.Component("chat")}
	}

	queueOpts := []actions.Option{
		actions.WithSoundPlayer(audio.NewPlayer(cfg.Audio.SoundDir, cfg.Audio.Player)),
		actions.WithSpeaker(audio.NewSpeaker(cfg.Audio.TTS)),
		actions.WithChat(sender),
		actions.WithBroadcaster(d.hub),
		actions.WithVariables(d.variables),
		actions.WithLogger(logging.Component("actions")),
	}
	if cfg.Lights.Enabled {
		queueOpts = append(queueOpts, actions.WithLights(lights.New(lights.Config{
			BaseURL: cfg.Lights.BaseURL,
			Group:   cfg.Lights.Group,
			Timeout: cfg.Lights.Timeout,
		}, opts.HTTPClient)))
	}
	if cfg.YouTube.ChannelID != "" && cfg.YouTube.APIKey != "" {
		d.youtube = lookup.NewYouTube(lookup.YouTubeConfig{
			ChannelID: cfg.YouTube.ChannelID,
			APIKey:    cfg.YouTube.APIKey,
			TTL:       cfg.YouTube.TTL,
		}, opts.HTTPClient)
		queueOpts = append(queueOpts, actions.WithSnapshotProvider(d.youtube))
	}
	if d.journal != nil {
		queueOpts = append(queueOpts, actions.WithJournal(events.Journal{Repo: d.journal}))
	}

	d.queue = actions.New(actions.Config{
		AllowAudio: cfg.Queue.AllowAudio,
		DelayUnit:  cfg.Queue.DelayUnit,
	}, snapshot, queueOpts...)

	d.announcer = chat.NewAnnouncer(sender, chat.AnnouncerConfig{
		BotName:  cfg.Chat.BotName,
		Online:   cfg.Chat.Online,
		Reminder: cfg.Chat.Announce,
		Interval: cfg.Chat.AnnounceInterval,
	}, logging.Component("chat"))

	d.parser = chat.NewParser(d.queue,
		chat.WithLimiter(ratelimit.New(ratelimit.Limit{PerSecond: cfg.Chat.UserRate, Burst: cfg.Chat.UserBurst})),
		chat.WithCommand("!dice", chat.Dice(sender, nil)),
		chat.WithCommand("!ping", chat.NewPingPong(sender, cfg.Chat.BotName, nil)),
		chat.WithLogger(logging.Component("chat")),
	)

	if cfg.PayPal.Enabled {
		d.paypal = paypal.NewNotifier(d.queue, cfg.PayPal.VerifyURL, opts.HTTPClient)
	}

	d.fireLimit = ratelimit.New(ratelimit.Limit{PerSecond: cfg.Server.FireRate, Burst: cfg.Server.FireBurst})
	d.router = d.newRouter()

	d.health = health.NewServer()
	d.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(d.fireLimit.UnaryServerInterceptor()))
	healthpb.RegisterHealthServer(d.grpcServer, d.health)

	return d, nil
}

// ResolveEventMap returns the events and globals documents. Configured
// paths win; otherwise the search directories under projectDir are used.
func ResolveEventMap(cfg config.EventsConfig, projectDir string) (string, string, error) {
	if cfg.Path != "" {
		return cfg.Path, cfg.GlobalsPath, nil
	}
	eventsPath, globalsPath, ok := eventmap.Locate(projectDir)
	if !ok {
		return "", "", ErrNoEventMap
	}
	if cfg.GlobalsPath != "" {
		globalsPath = cfg.GlobalsPath
	}
	return eventsPath, globalsPath, nil
}

// Run serves until ctx is canceled or a listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	defer d.close()

	httpListener, err := net.Listen("tcp", d.bindAddr(d.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.bindAddr(d.cfg.Server.Port), err)
	}
	d.httpAddr = httpListener.Addr().String()

	var grpcListener net.Listener
	if d.cfg.Server.GRPCPort > 0 {
		grpcListener, err = net.Listen("tcp", d.bindAddr(d.cfg.Server.GRPCPort))
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", d.bindAddr(d.cfg.Server.GRPCPort), err)
		}
		d.grpcAddr = grpcListener.Addr().String()
	}

	watcher, err := eventmap.NewWatcher(d.eventsPath, d.globalsPath, d.queue.Snapshot(), d.onReload,
		eventmap.WithDebounce(d.cfg.Events.ReloadDebounce),
		eventmap.WithFailureHandler(d.onReloadFailure),
		eventmap.WithLogger(logging.Component("eventmap")),
	)
	if err != nil {
		_ = httpListener.Close()
		if grpcListener != nil {
			_ = grpcListener.Close()
		}
		return err
	}
	close(d.ready)

	server := &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if grpcListener != nil {
		g.Go(func() error {
			if err := d.grpcServer.Serve(grpcListener); err != nil {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error { return watcher.Run(ctx) })

	if d.youtube != nil {
		g.Go(func() error { return d.youtube.Run(ctx) })
	}

	g.Go(func() error { return d.announcer.Run(ctx) })

	g.Go(func() error {
		d.drainResults(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info().Msg("fitzbot shutting down...")
		d.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("http shutdown error")
		}
		if grpcListener != nil {
			d.grpcServer.GracefulStop()
		}
		return nil
	})

	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	d.logger.Info().
		Str("http", d.httpAddr).
		Str("grpc", d.grpcAddr).
		Str("events", d.eventsPath).
		Str("version", d.opts.Version).
		Msg("fitzbot started")

	if err := g.Wait(); err != nil {
		return err
	}
	d.logger.Info().Msg("fitzbot shutdown complete")
	return nil
}

func (d *Daemon) close() {
	d.queue.Close()
	d.hub.Close()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to close journal")
		}
	}
}

func (d *Daemon) onReload(snapshot *eventmap.Snapshot) {
	d.queue.Reload(snapshot)
	if d.journal != nil {
		if err := events.LogReload(context.Background(), d.journal, d.eventsPath, snapshot.Files, len(snapshot.Events), nil); err != nil {
			d.logger.Warn().Err(err).Msg("failed to journal reload")
		}
	}
}

func (d *Daemon) onReloadFailure(reloadErr error) {
	if d.journal == nil {
		return
	}
	var files []string
	var loadErr *eventmap.LoadError
	if errors.As(reloadErr, &loadErr) {
		files = loadErr.Files
	}
	if err := events.LogReload(context.Background(), d.journal, d.eventsPath, files, 0, reloadErr); err != nil {
		d.logger.Warn().Err(err).Msg("failed to journal reload")
	}
}

// drainResults consumes action results so the channel never fills. Failed
// effects are already logged by the queue.
func (d *Daemon) drainResults(ctx context.Context) {
	results := d.queue.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-results:
			d.logger.Debug().
				Str("event", res.Event).
				Str("action_id", res.ActionID).
				Int("effects", len(res.Effects)).
				Int("failed", len(res.Failed())).
				Dur("duration", res.Duration).
				Msg("action finished")
		}
	}
}

func (d *Daemon) bindAddr(port int) string {
	host := d.cfg.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Ready is closed once the listeners are bound.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// HTTPAddr returns the bound HTTP address. Valid after Ready.
func (d *Daemon) HTTPAddr() string {
	return d.httpAddr
}

// GRPCAddr returns the bound gRPC address, empty when disabled. Valid after
// Ready.
func (d *Daemon) GRPCAddr() string {
	return d.grpcAddr
}

// Queue returns the action queue.
func (d *Daemon) Queue() *actions.Queue {
	return d.queue
}

// Variables returns the variable table.
func (d *Daemon) Variables() *variables.Table {
	return d.variables
}

// Router returns the HTTP handler.
func (d *Daemon) Router() http.Handler {
	return d.router
}
