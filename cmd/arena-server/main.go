package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/ai"
	"github.com/kapu/alkkagi-arena-go/internal/alkkagi"
	appcfg "github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/collab"
	"github.com/kapu/alkkagi-arena-go/internal/engine"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/gateway"
	"github.com/kapu/alkkagi-arena-go/internal/negotiation"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
	"github.com/kapu/alkkagi-arena-go/internal/store"
)

func main() {
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	catalog, err := appcfg.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatalf("rules error: %v", err)
	}
	rules, err := catalog.Preset(cfg.RulesPreset)
	if err != nil {
		log.Fatalf("rules error: %v", err)
	}

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		repo, err = store.NewPGRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
	} else {
		obslog.L().Warn("no DATABASE_URL, using in-memory repository")
		repo = store.NewMemoryRepository()
	}

	st, err := store.NewFromURL(cfg.RedisURL, repo)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}

	reg := engine.NewRegistry(cfg.MaxConcurrentSessions)
	reg.RegisterMode(alkkagi.NewHandler(catalog, nil))

	var rewards collab.RewardSink = collab.NopRewardSink{}
	var economy *collab.EconomyClient
	if cfg.EconomyBaseURL != "" {
		economy = collab.NewEconomyClient(cfg.EconomyBaseURL,
			collab.WithHeaderProvider(func() map[string]string {
				return map[string]string{"Authorization": "Bearer " + cfg.EconomyToken}
			}),
		)
		rewards = economy
	}

	hub := gateway.NewHub()
	eng := engine.New(reg, st, catalog, game.WallClock, rewards, hub)
	factory := engine.NewFactory(eng, cfg.AllowAIGames, rand.New(rand.NewSource(time.Now().UnixNano())))
	if economy != nil {
		factory.SetUserDirectory(economy)
	}

	neg := negotiation.NewManager(st.Redis(), factory.SessionFactory(), rules.NegotiationTTL, game.WallClock)

	driver := engine.NewDriver(eng, ai.NewBaseline(time.Now().UnixNano()), cfg.TickInterval)
	rootCtx, rootCancel := context.WithCancel(context.Background())
	go driver.Run(rootCtx)

	auth := gateway.NewTokenAuth(cfg.JWTSecret, 24*time.Hour)
	srv := gateway.NewServer(cfg.ListenAddr, auth, hub, eng, factory, neg, st)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			obslog.L().Error("gateway_error", zap.Error(err))
			rootCancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-rootCtx.Done():
	}

	obslog.L().Info("shutting down")
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	rootCancel()
	driver.Stop()
	_ = st.Close()
	_ = repo.Close()
}
