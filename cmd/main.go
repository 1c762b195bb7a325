package main

import (
	"context"
	"errors"
	"mailbox/backend/internal/api/handler"
	"mailbox/backend/internal/app"
	"mailbox/backend/internal/config"
	"mailbox/backend/internal/events"
	"mailbox/backend/internal/localization"
	"mailbox/backend/internal/logging"
	"mailbox/backend/internal/mailbox"
	"mailbox/backend/internal/models"
	"mailbox/backend/internal/telegram"
	"mailbox/backend/internal/triage"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("mailbox stopped with error")
	}
}

func run() error {
	cfg, loader, err := config.Load("")
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
		Name:   "mailbox",
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	log.Info("Starting Mailbox Backend...")

	if err := cfg.ValidateDaemon(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	store, closeStore, err := app.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	secrets, err := app.Secrets(cfg)
	if err != nil {
		return err
	}
	token, err := app.BotToken(ctx, cfg, secrets)
	if err != nil {
		return err
	}
	botAPI, err := telegram.NewBotAPI(token, log)
	if err != nil {
		return err
	}

	localizer, err := localization.NewDefaultLocalizer()
	if err != nil {
		return err
	}
	lang := cfg.Telegram.Language
	if !localizer.HasLanguage(lang) {
		log.WithField("language", lang).Warn("unknown bot language, using default")
		lang = localization.DefaultLanguage
	}

	fast, err := app.NewResponder(ctx, cfg, secrets)
	if err != nil {
		return err
	}
	if fast == nil {
		log.Warn("fast responder disabled, every question goes to the deferred responder")
	}

	// 2. Triage з гарячим перезавантаженням ключових слів
	classifier := triage.NewClassifier(cfg.Triage.Keywords)
	loader.Watch(func(c *config.Config, err error) {
		if err != nil {
			log.WithError(err).Warn("config reload failed, keeping previous keywords")
			return
		}
		classifier.SetKeywords(c.Triage.Keywords)
		log.WithField("keywords", len(classifier.Keywords())).Info("triage keywords reloaded")
	})

	overlay := app.NewOverlay(cfg)
	broker := events.NewBroker(64)
	notifier := telegram.NewNotifier(botAPI, cfg.Telegram.ChatID, localizer, lang, cfg.Delivery.Timeout, log)

	engine, err := mailbox.NewEngine(mailbox.Config{
		Storage:             store,
		Classifier:          classifier,
		Responder:           fast,
		Knowledge:           overlay,
		Deliverer:           notifier,
		Events:              broker,
		Logger:              log,
		ResponderTimeout:    cfg.Responder.Timeout,
		DeliveryTimeout:     cfg.Delivery.Timeout,
		MaxDeliveryAttempts: cfg.Delivery.MaxAttempts,
	})
	if err != nil {
		return err
	}

	dispatcher := mailbox.NewDispatcher(engine, cfg.Dispatch.Workers, cfg.Dispatch.Queue, log)
	bot := telegram.NewBotService(notifier, engine, dispatcher, classifier, overlay, localizer, lang, log)
	poller := telegram.NewPoller(botAPI, store, cfg.Telegram.ChatID, bot.HandleMessage, log)

	// 3. Доставка відповідей, які не дійшли раніше
	if n, err := engine.FlushPendingDeliveries(ctx); err != nil {
		log.WithError(err).Warn("startup delivery sweep failed")
	} else if n > 0 {
		log.WithField("delivered", n).Info("startup delivery sweep delivered answers")
	}

	sweeper := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sweeper.AddFunc(cfg.Delivery.Sweep, func() {
		if _, err := engine.FlushPendingDeliveries(ctx); err != nil {
			log.WithError(err).Warn("scheduled delivery sweep failed")
		}
	}); err != nil {
		return err
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	// 4. Запуск основних goroutines
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return flushOnRemoteAnswers(gctx, broker, engine, log) })

	if store.Redis != nil {
		bridge := events.NewRedisBridge(broker, store, log)
		g.Go(func() error { return bridge.Run(gctx) })
	} else {
		log.Info("redis not configured, answers from other processes are picked up by the sweep")
	}

	if cfg.API.JWTSecret != "" {
		tokens, err := handler.NewTokenIssuer(cfg.API.JWTSecret, cfg.API.TokenTTL)
		if err != nil {
			return err
		}
		gin.SetMode(gin.ReleaseMode)
		h := handler.NewHandler(engine, overlay, broker, log)
		server := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           h.Router(tokens),
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		g.Go(func() error { return serveHTTP(gctx, server, log) })
	} else {
		log.Warn("API_JWT_SECRET not set, HTTP API disabled")
	}

	bot.Announce(ctx)
	log.Info("mailbox is running")

	err = g.Wait()
	log.Info("mailbox stopped")
	return err
}

// flushOnRemoteAnswers runs the delivery sweep when another process records
// an answer.
func flushOnRemoteAnswers(ctx context.Context, broker *events.Broker, engine *mailbox.Engine, log logrus.FieldLogger) error {
	evs, cancel := broker.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			if ev.Type != models.EventAnswerRecorded || ev.Origin == broker.Origin() {
				continue
			}
			if _, err := engine.FlushPendingDeliveries(ctx); err != nil {
				log.WithError(err).Warn("delivery sweep after remote answer failed")
			}
		}
	}
}

func serveHTTP(ctx context.Context, server *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("HTTP API listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
