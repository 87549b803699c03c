// Package app wires the geochat services together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"geochat/go-geochat-server/internal/asyncdelivery"
	"geochat/go-geochat-server/internal/config"
	"geochat/go-geochat-server/internal/directory"
	"geochat/go-geochat-server/internal/event"
	"geochat/go-geochat-server/internal/metrics"
	"geochat/go-geochat-server/internal/model"
	"geochat/go-geochat-server/internal/protocol"
	"geochat/go-geochat-server/internal/routing"
	"geochat/go-geochat-server/internal/socketserver"
	"geochat/go-geochat-server/internal/store"

	"github.com/grandcat/zeroconf"
)

// App wires together the geochat services and manages their lifecycle.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	dir     *directory.Directory
	metrics *metrics.Metrics
	socket  *socketserver.Server
	broker  *asyncdelivery.Subsystem
	mdns    *zeroconf.Server

	notifier  *event.Notifier
	consumers map[string]*asyncdelivery.Consumer
	startedAt time.Time
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger, consumers: make(map[string]*asyncdelivery.Consumer)}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	a.startedAt = time.Now().UTC()

	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.metrics = metrics.New()
	a.notifier = event.NewNotifier()
	a.dir = directory.New(a.notifier)

	events, cancelEvents := a.notifier.Subscribe(256)
	defer cancelEvents()

	// The broker is optional at startup: without it the live path still
	// works and every send_message that needs the queued path reports the
	// reason to the caller.
	broker, err := asyncdelivery.Dial(a.logger, a.cfg.BrokerURL())
	if err != nil {
		a.logger.Warn("broker unavailable, queued delivery disabled", "error", err)
	} else {
		a.broker = broker
		defer func() {
			if cerr := a.broker.Close(); cerr != nil {
				a.logger.Error("close broker", "error", cerr)
			}
		}()
	}

	a.socket = socketserver.New(a.logger, a.dir, a.notifier, a.metrics)
	socketErrCh, err := a.socket.Start(a.cfg.SocketBindAddress)
	if err != nil {
		return err
	}

	httpErrCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	metricsErrCh := make(chan error, 1)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", a.metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		a.logger.Info("metrics server started", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range events {
			a.handleEvent(ctx, ev)
		}
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.socket.Stop(); err != nil {
			return err
		}
		a.logger.Info("socket server stopped")

		// Join the event loop before touching the consumers map; it is
		// owned by that execution context.
		cancelEvents()
		<-eventsDone
		a.stopConsumers()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		a.logger.Info("http servers stopped")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-socketErrCh:
			if err != nil {
				_ = shutdown()
				return err
			}
			socketErrCh = nil
		case err := <-httpErrCh:
			if err != nil {
				_ = a.socket.Stop()
				return err
			}
		case err := <-metricsErrCh:
			if err != nil {
				_ = a.socket.Stop()
				return err
			}
		}
	}
}

// handleEvent runs on the single event-loop execution context; the consumers
// map is only touched here.
func (a *App) handleEvent(ctx context.Context, ev event.Event) {
	switch ev.Kind {
	case event.KindParticipantConnected:
		a.onConnected(ctx, ev.Participant)
	case event.KindParticipantDisconnected:
		a.onDisconnected(ev.Participant)
	case event.KindLocationUpdated:
		a.onLocationUpdated(ctx, ev.Participant)
	case event.KindMessageRouted:
		a.recordMessage(ctx, model.RoutedMessage{
			Sender:    ev.Sender,
			Recipient: ev.Recipient,
			Content:   ev.Content,
			Mode:      string(routing.ModeLive),
			CreatedAt: ev.At,
		})
	}
}

func (a *App) onConnected(ctx context.Context, p model.Participant) {
	if a.broker == nil {
		return
	}

	if err := a.broker.ProvisionParticipant(p.Name); err != nil {
		a.logger.Error("provision queues", "participant", p.Name, "error", err)
		return
	}

	consumer := a.broker.NewConsumer(p.Name, a.queuedMessageHandler(p.Name), a.locationHandler(p.Name), &storeSink{app: a})
	errCh, err := consumer.Start(ctx)
	if err != nil {
		a.logger.Error("start consumer", "participant", p.Name, "error", err)
		return
	}
	a.consumers[p.Name] = consumer

	go func() {
		for err := range errCh {
			a.logger.Error("consumer terminated", "participant", p.Name, "error", err)
		}
	}()
}

func (a *App) onDisconnected(p model.Participant) {
	if a.broker == nil {
		return
	}

	if consumer, ok := a.consumers[p.Name]; ok {
		consumer.Stop()
		delete(a.consumers, p.Name)
	}

	if err := a.broker.RemoveParticipant(p.Name); err != nil {
		a.logger.Error("remove queues", "participant", p.Name, "error", err)
	}
}

func (a *App) onLocationUpdated(ctx context.Context, p model.Participant) {
	if a.broker == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.broker.PublishLocation(pubCtx, p); err != nil {
		a.logger.Error("publish location broadcast", "participant", p.Name, "error", err)
	}
}

func (a *App) stopConsumers() {
	for name, consumer := range a.consumers {
		consumer.Stop()
		delete(a.consumers, name)
	}
}

// queuedMessageHandler drains a participant's message queue into its live
// connection. A handler error requeues the delivery, so a message that
// arrives while the participant is dropping off is retried rather than lost.
func (a *App) queuedMessageHandler(name string) asyncdelivery.MessageHandler {
	return func(msg asyncdelivery.AsyncMessage) error {
		_, transport, ok := a.dir.LookupTransport(name)
		if !ok {
			return fmt.Errorf("participant %s not online", name)
		}

		if err := transport.Deliver(protocol.NewMessageReceived(msg.Remetente, msg.Conteudo)); err != nil {
			return fmt.Errorf("deliver queued message: %w", err)
		}

		a.metrics.ObserveQueued(msg.Motivo)
		a.recordMessage(context.Background(), model.RoutedMessage{
			Sender:    msg.Remetente,
			Recipient: msg.Destinatario,
			Content:   msg.Conteudo,
			Mode:      string(routing.ModeQueued),
			Reason:    msg.Motivo,
		})
		return nil
	}
}

// locationHandler forwards proximity broadcasts from other participants to
// the live connection. Self-origin broadcasts never reach this handler.
func (a *App) locationHandler(name string) asyncdelivery.LocationHandler {
	return func(upd asyncdelivery.LocationUpdate) error {
		_, transport, ok := a.dir.LookupTransport(name)
		if !ok {
			return fmt.Errorf("participant %s not online", name)
		}
		return transport.Deliver(protocol.NewLocationBroadcast(upd.Usuario))
	}
}

func (a *App) recordMessage(ctx context.Context, m model.RoutedMessage) {
	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.store.InsertRoutedMessage(recCtx, m); err != nil {
		a.logger.Error("record routed message", "error", err)
	}
}

// storeSink persists dead letters from the consumers.
type storeSink struct {
	app *App
}

func (s *storeSink) DeadLetter(ctx context.Context, queue string, payload []byte, cause error) {
	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	entry := model.DeadLetter{
		Queue:   queue,
		Payload: string(payload),
		Error:   cause.Error(),
	}
	if err := s.app.store.InsertDeadLetter(recCtx, entry); err != nil {
		s.app.logger.Error("record dead letter", "queue", queue, "error", err)
	}
}
