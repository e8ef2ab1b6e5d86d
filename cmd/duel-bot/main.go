package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/bot"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/codeforces"
	appcfg "github.com/Kaizer-13/Codeforces-Duel-Bot/internal/config"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/duel"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/gateway"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/msgcat"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/obslog"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/problems"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/registry"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/verify"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cat, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		logger.Fatal("message catalog init error", zap.Error(err))
	}

	client := gateway.NewClient(cfg.GatewayBaseURL)
	ws := gateway.NewWebSocket(cfg.GatewayWSURL, 5, time.Second)
	ws.OnStateChange(func(state gateway.WebSocketState) {
		logger.Info("ws_state", zap.String("state", string(state)))
	})

	cf := codeforces.NewClient(cfg.CodeforcesBaseURL, codeforces.WithMinInterval(cfg.CodeforcesMinInterval))

	// Redis when configured, local JSON file otherwise.
	var store registry.Store
	var redisStore *registry.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = registry.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis init error", zap.Error(err))
		}
		store = redisStore
	} else {
		store = registry.NewFileStore(cfg.UsersFile)
	}
	users := registry.New(store)

	waiter := gateway.NewReactionWaiter()
	verifier := verify.New(cf, client, waiter, cat, verify.Options{
		Window:      cfg.VerifyWindow,
		SettleDelay: cfg.SettleDelay,
	})
	selector := problems.New(cf)
	duels := duel.NewManager(users, selector, cf, client, waiter, cat, duel.Options{
		AcceptWindow:  cfg.AcceptWindow,
		SolveWindow:   cfg.SolveWindow,
		RecentChecked: cfg.RecentChecked,
	})

	var repo *duel.Repository
	if cfg.DatabaseURL != "" {
		repo, err = duel.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("repository init error", zap.Error(err))
		}
		duels.AttachArchive(repo)
	}

	router := bot.NewRouter(client, users, duels, verifier, cat, cfg.BotPrefix, cfg.LeaderboardSize)

	ws.OnEvent(func(ev *gateway.Event) {
		if ev == nil {
			return
		}
		switch ev.Type {
		case gateway.EventReaction:
			if ev.Reaction != nil {
				waiter.Dispatch(ev.Reaction)
			}
		case gateway.EventMessage:
			msg := ev.Message
			if msg == nil || msg.IsBot {
				return
			}
			if len(cfg.AllowedRooms) > 0 && !roomAllowed(cfg.AllowedRooms, msg.Room) {
				return
			}
			if !router.Matches(msg.Text) {
				return
			}
			// keep the event loop free of slow command flows
			go router.Handle(context.Background(), msg)
		}
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		logger.Fatal("ws connect error", zap.Error(err))
	}
	cancel()
	logger.Info("duel bot started", zap.String("prefix", cfg.BotPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = ws.Close(context.Background())
	if redisStore != nil {
		_ = redisStore.Close()
	}
	if repo != nil {
		_ = repo.Close()
	}
	_ = logger.Sync()
}

func roomAllowed(allowed []string, room string) bool {
	for _, r := range allowed {
		if r == room {
			return true
		}
	}
	return false
}
