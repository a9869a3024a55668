package appServer

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/appointly/config"
	"github.com/ds124wfegd/appointly/internal/database"
	pgstore "github.com/ds124wfegd/appointly/internal/database/postgres"
	redisstore "github.com/ds124wfegd/appointly/internal/database/redis"
	"github.com/ds124wfegd/appointly/internal/metrics"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/ds124wfegd/appointly/internal/transport"
	"github.com/ds124wfegd/appointly/internal/worker"
	"github.com/ds124wfegd/appointly/pkg/mq"
	"github.com/ds124wfegd/appointly/pkg/postgres"
	"github.com/ds124wfegd/appointly/pkg/queue"
	"github.com/ds124wfegd/appointly/pkg/redis"
	"github.com/ds124wfegd/appointly/pkg/scheduler"
	"github.com/ds124wfegd/appointly/pkg/sms"
	"github.com/ds124wfegd/appointly/pkg/telegram"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// App holds every wired component. The HTTP server and the one-shot CLI
// commands share it.
type App struct {
	Config *config.Config

	Store     database.RecordStore
	Slots     service.SlotService
	Dispatch  service.DispatchService
	Delivery  service.DeliveryService
	Reminders service.ReminderService
	Limiter   service.RateLimiter
	Auth      service.AuthService

	// Purger is set only for the postgres store.
	Purger worker.Purger

	queue   *queue.RedisQueue
	events  mq.EventPublisher
	closers []func() error
}

// SetupLogging configures logrus the same way for every entry point.
func SetupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)
	if !cfg.IsProduction() && cfg.Server.Mode == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// Build connects to the configured backends and wires the services.
func Build(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	var redisClient *goredis.Client
	if cfg.Store.Driver == "redis" || cfg.Queue.Enabled {
		client, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		redisClient = client
		app.closers = append(app.closers, client.Close)
	}

	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.NewPostgresDB(&cfg.Database)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		app.closers = append(app.closers, db.Close)

		if err := postgres.RunMigrations(db); err != nil {
			app.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		store := pgstore.NewStore(db)
		app.Store = store
		app.Purger = store
	default:
		app.Store = redisstore.NewStore(redisClient)
	}
	logrus.WithField("driver", cfg.Store.Driver).Info("Record store initialized")

	bookings := database.NewBookingRepository(app.Store)
	attempts := database.NewAttemptRepository(app.Store)
	provider := newSMSProvider(cfg)
	loc := cfg.Location()

	app.events = newEventPublisher(cfg)
	app.closers = append(app.closers, app.events.Close)

	var alerter service.Alerter
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		alerter = telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
		logrus.Info("Telegram alerts enabled")
	}

	app.Dispatch = service.NewDispatchService(provider, attempts, bookings, service.DispatchConfig{
		AdminPhone:      cfg.SMS.AdminPhone,
		BusinessName:    cfg.SMS.BusinessName,
		Timeout:         cfg.SMS.Timeout,
		ReminderLockTTL: cfg.Reminder.LockTTL,
	}, time.Now)

	app.Delivery = service.NewDeliveryService(provider, attempts, service.DeliveryConfig{
		Timeout:   cfg.SMS.Timeout,
		PollDelay: cfg.SMS.StatusPollDelay,
	}, time.Now)

	app.Reminders = service.NewReminderService(bookings, app.Dispatch, alerter, service.ReminderConfig{
		Location: loc,
		LockTTL:  cfg.Reminder.LockTTL,
	}, time.Now)

	app.Limiter = service.NewRateLimiter(app.Store, service.AuthEscalation{
		Threshold: cfg.RateLimits.AuthEscalation.Threshold,
		Window:    cfg.RateLimits.AuthEscalation.Window,
		Block:     cfg.RateLimits.AuthEscalation.Block,
	}, time.Now)

	app.Auth = service.NewAuthService(app.Limiter, service.AuthConfig{
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
		Secret:       cfg.JWT.Secret,
		Expiration:   cfg.JWT.Expiration,
	}, time.Now)

	var notifier service.BookingNotifier
	if cfg.Queue.Enabled {
		qcfg := queue.DefaultRedisQueueConfig(cfg.Queue.Prefix)
		qcfg.MaxRetries = cfg.Queue.MaxRetries
		qcfg.BaseDelay = cfg.Queue.BaseDelay

		q, err := queue.NewRedisQueue(redisClient, qcfg, nil, nil)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init task queue: %w", err)
		}
		app.queue = q
		app.closers = append(app.closers, q.Close)
		notifier = service.NewQueueNotifier(service.NewQueueAdapter(q), cfg.Queue.MaxRetries)
		logrus.Info("Notifications go through the task queue")
	} else {
		notifier = service.NewGoroutineNotifier(app.Dispatch, cfg.SMS.DispatchTimeout)
	}

	app.Slots = service.NewSlotService(bookings, notifier, app.events, service.SlotConfig{
		OpenHour:  cfg.Booking.OpenHour,
		CloseHour: cfg.Booking.CloseHour,
		Location:  loc,
	}, time.Now)

	return app, nil
}

func newSMSProvider(cfg *config.Config) sms.Provider {
	if cfg.SMS.Provider == "twilio" {
		logrus.Info("Using Twilio SMS provider")
		return sms.NewTwilioProvider(sms.TwilioConfig{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.FromNumber,
			Timeout:    cfg.SMS.Timeout,
		})
	}
	logrus.Warn("Using console SMS provider, messages are only logged")
	return sms.NewConsoleProvider()
}

func newEventPublisher(cfg *config.Config) mq.EventPublisher {
	if cfg.RabbitMQ.URL == "" {
		return mq.NopPublisher{}
	}
	pub, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		logrus.Errorf("Failed to connect to RabbitMQ: %v. Continuing without domain events...", err)
		return mq.NopPublisher{}
	}
	logrus.Info("RabbitMQ publisher initialized")
	return pub
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, sql.ErrConnDone) {
			logrus.Warnf("error on close: %v", err)
		}
	}
	a.closers = nil
}

// NewServer runs the HTTP API and background workers until SIGINT/SIGTERM.
func NewServer(cfg *config.Config) error {
	SetupLogging(cfg)
	metrics.Init()

	app, err := Build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if app.queue != nil {
		taskHandler := worker.NewTaskHandler(app.Slots, app.Dispatch)
		if err := app.queue.Subscribe(gctx, taskHandler.HandleTask); err != nil {
			return fmt.Errorf("start queue subscriber: %w", err)
		}
		logrus.Info("Queue subscriber started")
	}

	if cfg.SMS.ReconcileEnabled {
		reconcileWorker := worker.NewReconcileWorker(app.Delivery, app.Purger, cfg.Worker.ReconcileInterval, cfg.SMS.ReconcileLimit)
		g.Go(func() error {
			reconcileWorker.Start(gctx)
			return nil
		})
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(cfg.Scheduler.JobTimeout)
		err := sched.Add("reminder-sweep", cfg.Scheduler.ReminderSpec, func(ctx context.Context) error {
			_, err := app.Reminders.Sweep(ctx)
			return err
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}

	// Setup HTTP server
	if cfg.IsProduction() || cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := transport.InitRoutes(transport.Handlers{
		Booking:  transport.NewBookingHandler(app.Slots),
		SMS:      transport.NewSMSHandler(app.Dispatch, app.Delivery),
		Reminder: transport.NewReminderHandler(app.Reminders, cfg.Reminder.CronSecret),
		Auth:     transport.NewAuthHandler(app.Auth, app.Limiter),
		Queue:    newQueueHandler(app.queue),
	}, transport.RouterDeps{
		Limiter:        app.Limiter,
		AuthService:    app.Auth,
		Limits:         cfg.RateLimits,
		RequestTimeout: cfg.Server.RequestTimeout,
		HealthCheck:    app.Store.Ping,
	})

	srv := new(Server)
	g.Go(func() error {
		logrus.WithField("addr", ":"+cfg.Server.Port).Print("App Started")
		if err := srv.Run(cfg, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error occured while running http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logrus.Print("App Shutting Down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("error occured on server shutting down: %s", err.Error())
		}
		return nil
	})

	return g.Wait()
}

func newQueueHandler(q *queue.RedisQueue) *transport.QueueHandler {
	if q == nil {
		return transport.NewQueueHandler(nil)
	}
	return transport.NewQueueHandler(q)
}
