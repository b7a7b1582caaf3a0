package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	apiPkg "github.com/ticketd-io/ticketd/internal/api"
	"github.com/ticketd-io/ticketd/internal/config"
	"github.com/ticketd-io/ticketd/internal/greeter"
	"github.com/ticketd-io/ticketd/internal/lifecycle"
	"github.com/ticketd-io/ticketd/internal/logbuf"
	"github.com/ticketd-io/ticketd/internal/metrics"
	"github.com/ticketd-io/ticketd/internal/platform"
	slackpkg "github.com/ticketd-io/ticketd/internal/platform/slack"
	"github.com/ticketd-io/ticketd/internal/prompt"
	"github.com/ticketd-io/ticketd/internal/reaper"
	"github.com/ticketd-io/ticketd/internal/sweep"
	"github.com/ticketd-io/ticketd/internal/ticket"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Optional .env for local runs; env config picks the values up.
	godotenv.Load()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logRing := logbuf.NewRing(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewTeeHandler(jsonHandler, logRing))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Slack == nil {
		logger.Error("slack configuration is required")
		os.Exit(1)
	}

	logger.Info("ticketd starting", "category", cfg.Tickets.CategoryID)

	// Ticket store
	var store ticket.Store
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := ticket.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to open ticket store", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		store = s
		logger.Info("sqlite ticket store opened", "path", cfg.Storage.Path)
	default:
		store = ticket.NewMemoryStore()
	}

	m := metrics.New()
	prompts := prompt.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The controller is bound after the adapter exists; handlers fire only
	// once the socket loop starts, so the late binding is safe.
	var ctrl *lifecycle.Controller
	var greet *greeter.Greeter

	handlers := platform.Handlers{
		Button: func(ctx context.Context, ev platform.ButtonEvent) {
			switch ev.Button {
			case lifecycle.CreateButtonID:
				// RequestOpen blocks on the reason prompt.
				go safeGo(logger, "ticket-open", func() {
					if _, err := ctrl.RequestOpen(ctx, ev.User, ev.Name, ev.Channel); err != nil {
						logger.Warn("ticket open failed", "user", ev.User, "error", err)
					}
				})
			case lifecycle.CloseButtonID:
				actor := lifecycle.Actor{User: ev.User, Name: ev.Name}
				if _, err := ctrl.RequestClose(ctx, actor, ev.Channel); err != nil {
					logger.Warn("ticket close failed", "user", ev.User, "channel", ev.Channel, "error", err)
				}
			}
		},
		Message: func(ctx context.Context, ev platform.MessageEvent) {
			if handleCommand(ctx, ctrl, cfg.Tickets.CommandPrefix, ev, logger) {
				return
			}
			ctrl.HandleMessage(ev)
		},
		MemberJoin: func(ctx context.Context, ev platform.MemberJoinEvent) {
			greet.Greet(ctx, ev)
		},
	}

	adapter, err := slackpkg.New(slackpkg.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
	}, handlers, logger.With("component", "slack"))
	if err != nil {
		logger.Error("failed to init slack adapter", "error", err)
		os.Exit(1)
	}

	reap := reaper.New(adapter, store, m, logger.With("component", "reaper"))
	defer reap.Stop()

	ctrl = lifecycle.New(cfg.Tickets, adapter, store, prompts, reap, m, logger.With("component", "lifecycle"))
	greet = greeter.New(cfg.Welcome, adapter, logger.With("component", "greeter"))

	sweeper := sweep.New(cfg.Tickets, adapter, store, ctrl, reap, m, logger.With("component", "sweep"))
	go safeGo(logger, "sweeper", func() { sweeper.Start(ctx) })

	apiSvc := &ticketServiceAdapter{store: store, ctrl: ctrl}
	apiSrv := apiPkg.NewServer(apiSvc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logRing, m.Handler())
	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })

	go safeGo(logger, "slack-adapter", func() {
		if err := adapter.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("slack adapter stopped", "error", err)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("ticketd stopped")
}

// handleCommand dispatches prefix commands. Reports whether the message was
// consumed as a command.
func handleCommand(ctx context.Context, ctrl *lifecycle.Controller, prefix string, ev platform.MessageEvent, logger *slog.Logger) bool {
	if !strings.HasPrefix(ev.Text, prefix) {
		return false
	}
	actor := lifecycle.Actor{User: ev.User, Name: ev.Name}

	switch strings.TrimSpace(strings.TrimPrefix(ev.Text, prefix)) {
	case "setup":
		if err := ctrl.PublishPanel(ctx, actor, ev.Channel); err != nil {
			logger.Warn("setup command failed", "user", ev.User, "error", err)
		}
	case "close":
		if _, err := ctrl.RequestClose(ctx, actor, ev.Channel); err != nil {
			logger.Warn("close command failed", "user", ev.User, "channel", ev.Channel, "error", err)
		}
	case "closeall":
		closed, err := ctrl.CloseAll(ctx, actor)
		if err != nil {
			logger.Warn("closeall command failed", "user", ev.User, "error", err)
			return true
		}
		logger.Info("closeall finished", "closed", closed, "by", ev.User)
	default:
		return false
	}
	return true
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// ticketServiceAdapter implements api.TicketService on the store and the
// lifecycle controller.
type ticketServiceAdapter struct {
	store ticket.Store
	ctrl  *lifecycle.Controller
}

func (s *ticketServiceAdapter) ListTickets() ([]*ticket.Ticket, error) {
	return s.store.List()
}

func (s *ticketServiceAdapter) GetTicket(id int) (*ticket.Ticket, error) {
	return s.store.Get(id)
}

func (s *ticketServiceAdapter) CloseTicket(ctx context.Context, id int) (ticket.CloseOutcome, error) {
	tk, err := s.store.Get(id)
	if err != nil {
		return 0, err
	}
	return s.ctrl.CloseAsSystem(ctx, tk.Channel)
}
