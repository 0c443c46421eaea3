// Package main is the entry point for the arena engine: a multi-agent
// trading competition that replays historical A-share sessions day by day
// against several LLM-driven strategies and ranks them on realized return.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/arena-engine/internal/agent"
	"github.com/aristath/arena-engine/internal/arena"
	"github.com/aristath/arena-engine/internal/config"
	"github.com/aristath/arena-engine/internal/database"
	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/events"
	"github.com/aristath/arena-engine/internal/maintenance"
	"github.com/aristath/arena-engine/internal/marketdata"
	"github.com/aristath/arena-engine/internal/memstore"
	"github.com/aristath/arena-engine/internal/persistence"
	"github.com/aristath/arena-engine/internal/portfolio"
	"github.com/aristath/arena-engine/internal/providers"
	"github.com/aristath/arena-engine/internal/recovery"
	"github.com/aristath/arena-engine/internal/reliability"
	"github.com/aristath/arena-engine/internal/server"
	"github.com/aristath/arena-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting arena engine")

	db, err := database.New(database.Config{
		Path:    cfg.DataDir + "/arena.db",
		Profile: database.ProfileStandard,
		Name:    "arena",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open arena database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate arena database")
	}

	persist := persistence.New(db)
	store := memstore.New()
	bus := events.NewBus()
	manager := events.NewManager(bus, log)

	whitelist, err := providers.LoadWhitelist(cfg.CandidateWhitelistPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load candidate whitelist")
	}
	marketClient := providers.NewMarketDataClient(cfg.MarketDataBaseURL, cfg.MarketDataAPIKey)
	market := marketdata.New(marketClient, whitelist, 200)

	healthService := reliability.NewDatabaseHealthService(db, log)
	backupService := reliability.NewBackupService(map[string]*database.DB{"arena": db}, log)

	var r2Backup *reliability.R2BackupService
	if cfg.R2BackupEnabled {
		r2Ctx, r2Cancel := context.WithTimeout(context.Background(), 10*time.Second)
		r2Client, err := reliability.NewR2Client(r2Ctx, reliability.R2Config{
			AccountEndpoint: cfg.R2Endpoint,
			Bucket:          cfg.R2Bucket,
			AccessKeyID:     cfg.R2AccessKey,
			SecretAccessKey: cfg.R2SecretKey,
		})
		r2Cancel()
		if err != nil {
			log.Error().Err(err).Msg("failed to build R2 client, weekly backups disabled")
		} else {
			r2Backup = reliability.NewR2BackupService(r2Client, backupService, cfg.DataDir, log)
		}
	}

	if err := healthService.CheckAndRecover(); err != nil {
		log.Warn().Err(err).Msg("startup integrity check reported an issue")
	}

	maintScheduler := maintenance.NewScheduler(log)
	if err := maintScheduler.AddDailyJob(maintenance.NewDailyJob(db, cfg.DataDir+"/backups", log)); err != nil {
		log.Error().Err(err).Msg("failed to register daily maintenance job")
	}
	if err := maintScheduler.AddWeeklyJob(maintenance.NewWeeklyBackupJob(r2Backup, 30, log)); err != nil {
		log.Error().Err(err).Msg("failed to register weekly backup job")
	}
	maintScheduler.Start()
	defer maintScheduler.Stop()

	session, resumeErr := recovery.Resume(persist)
	if resumeErr != nil {
		log.Info().Msg("no resumable session found, starting a fresh run")
	}
	if session == nil {
		now := time.Now().UTC()
		session = &domain.Session{
			ID:             fmt.Sprintf("session-%s", uuid.New().String()),
			CreatedAt:      now,
			UpdatedAt:      now,
			StartDate:      cfg.StartDate,
			EndDate:        cfg.EndDate,
			CurrentDate:    cfg.StartDate,
			Status:         domain.SessionRunning,
			InitialCapital: cfg.InitialCapital,
		}
		configJSON, err := json.Marshal(projectConfig(cfg))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to marshal session config snapshot")
		}
		if err := persist.CreateSession(*session, string(configJSON)); err != nil {
			log.Fatal().Err(err).Msg("failed to create session")
		}
	}
	store.SetSession(session)
	store.SetConfig(projectConfig(cfg))

	agents := make([]*arena.AgentHandle, 0, len(cfg.Models))
	llmClients := map[string]domain.LLMClient{}
	for _, m := range cfg.Models {
		if !m.Enabled {
			continue
		}
		apiKey := m.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ARENA_LLM_API_KEY_" + m.ID)
		}
		llmClients[m.Name] = providers.NewLLMClient(m.Provider, m.ID, apiKey, cfg.LLMBaseURLByProvider[m.Provider])

		book := portfolio.NewBook(cfg.InitialCapital)
		if trades, err := persist.Trades(session.ID, m.Name); err == nil && len(trades) > 0 {
			book = recovery.RebuildFromTradeLog(cfg.InitialCapital, trades)
		}

		agents = append(agents, &arena.AgentHandle{
			Name:        m.Name,
			Provider:    m.Provider,
			Color:       m.Color,
			Book:        book,
			ModelOffset: len(agents),
		})
	}

	runContinuityCheck(persist, session.ID, cfg.InitialCapital, agents, log)

	scheduler := &arena.Scheduler{
		Agents:     agents,
		MarketData: market,
		News: func(code, asOfDate string, limit int) ([]domain.NewsItem, error) {
			return marketClient.GetNewsForCode(context.Background(), code, asOfDate, limit)
		},
		LLMFor: func(agentName string) domain.LLMClient {
			return llmClients[agentName]
		},
		Store:          store,
		Persist:        persist,
		Bus:            manager,
		Log:            log,
		Config:         cfg,
		PrimaryTimeout: cfg.PrimaryTimeout,
		GraceTimeout:   cfg.GraceTimeout,
		SessionID:      session.ID,
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	srv := server.New(server.Config{
		Log:     log,
		Config:  cfg,
		Store:   store,
		Persist: persist,
		Bus:     bus,
		OnReset: func() {
			store.Reset()
		},
		OnShutdown: func(ctx context.Context) {
			runCancel()
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("http server started")

	resumeAfter := effectiveResumeDate(persist, session.ID, agents)
	go runArena(runCtx, scheduler, market, cfg, log, resumeAfter)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
	runCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("arena engine stopped")
}

// runContinuityCheck implements the §4.4 startup self-heal: for every
// agent it walks that agent's recorded daily assets looking for a gap
// (one or more skipped trade days) or a corruption (an inconsistent
// day-over-day move, or a declared total that doesn't match an
// independently replayed cash+holdings value). The first bad date found
// becomes a rollback cutoff, rewinding that agent to the last day the
// trade log actually supports. Runs once per agent, after Resume and
// before the scheduler is constructed, so a killed-mid-day process never
// silently carries a broken curve into a fresh run.
func runContinuityCheck(persist *persistence.Store, sessionID string, initialCapital float64, agents []*arena.AgentHandle, log zerolog.Logger) {
	for _, a := range agents {
		points, err := persist.DailyAssets(sessionID, a.Name, "")
		if err != nil {
			log.Error().Err(err).Str("agent", a.Name).Msg("continuity check: failed to load daily assets")
			continue
		}
		if len(points) == 0 {
			continue
		}

		trades, err := persist.Trades(sessionID, a.Name)
		if err != nil {
			log.Error().Err(err).Str("agent", a.Name).Msg("continuity check: failed to load trades")
			continue
		}
		bookAt := func(asOf string) (cash, holdingsValue float64) {
			var upTo []domain.Trade
			for _, t := range trades {
				if t.Date <= asOf {
					upTo = append(upTo, t)
				}
			}
			b := recovery.RebuildFromTradeLog(initialCapital, upTo)
			return b.Cash, b.HoldingsValue()
		}

		cutoff := ""
		if gapDate, _, ok := recovery.DetectGap(points); ok {
			cutoff = gapDate
		}
		if badDate, ok := recovery.DetectCorruption(points, bookAt); ok && (cutoff == "" || badDate < cutoff) {
			cutoff = badDate
		}
		if cutoff == "" {
			continue
		}

		log.Warn().Str("agent", a.Name).Str("cutoff", cutoff).
			Msg("continuity check found a gap or inconsistency, rolling back to the last good day")
		if err := recovery.RollbackToDate(context.Background(), persist, sessionID, a.Name, cutoff, initialCapital); err != nil {
			log.Error().Err(err).Str("agent", a.Name).Msg("rollback failed, agent resumes from its pre-rollback state")
			continue
		}

		rebuilt, err := persist.Trades(sessionID, a.Name)
		if err != nil {
			log.Error().Err(err).Str("agent", a.Name).Msg("continuity check: failed to reload trades after rollback")
			continue
		}
		a.Book = recovery.RebuildFromTradeLog(initialCapital, rebuilt)
	}
}

// effectiveResumeDate computes the calendar date through which every agent
// has a recorded day, per §4.4 step 3 ("effective resume date =
// max(daily_assets)+1"). Because agents advance in lockstep under one
// barrier, the safe watermark is the minimum across agents of each one's
// last recorded date, not the maximum: an agent rolled back further than
// its peers must not be skipped past a date its peers have yet to see.
// An empty result means at least one agent has no recorded day yet (or its
// daily assets could not be loaded), so the run starts at cfg.StartDate
// with nothing to skip.
func effectiveResumeDate(persist *persistence.Store, sessionID string, agents []*arena.AgentHandle) string {
	resumeAfter := ""
	for _, a := range agents {
		points, err := persist.DailyAssets(sessionID, a.Name, "")
		if err != nil || len(points) == 0 {
			return ""
		}
		last := points[len(points)-1].Date
		if resumeAfter == "" || last < resumeAfter {
			resumeAfter = last
		}
	}
	return resumeAfter
}

// runArena resolves the trade-date calendar, skips any date every agent
// has already completed (resumeAfter, empty on a fresh session), and
// drives the scheduler to completion, persisting progress as it goes.
// Cancellation via ctx stops the run after the in-flight day finishes.
func runArena(ctx context.Context, s *arena.Scheduler, market *marketdata.Provider, cfg *config.Config, log zerolog.Logger, resumeAfter string) {
	dates, err := market.GetCalendar(ctx, cfg.StartDate, cfg.EndDate)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve trade-date calendar, arena run aborted")
		return
	}
	if len(dates) == 0 {
		log.Warn().Msg("empty trade-date calendar, nothing to run")
		return
	}

	if resumeAfter != "" {
		remaining := dates[:0:0]
		for _, d := range dates {
			if d > resumeAfter {
				remaining = append(remaining, d)
			}
		}
		log.Info().Str("resume_after", resumeAfter).Int("skipped", len(dates)-len(remaining)).
			Msg("resuming arena run, skipping dates every agent already completed")
		dates = remaining
		if len(dates) == 0 {
			log.Info().Msg("nothing left to run, every configured date is already recorded")
			return
		}
	}

	s.RunArena(ctx, dates,
		func(done, total int) {
			s.Store.SetProgress(memstore.Progress{
				Current:   done,
				Total:     total,
				Percent:   100 * float64(done) / float64(total),
				IsRunning: done < total,
			})
		},
		func(agentName, date string, res agent.Result) {
			if res.Err != nil {
				log.Warn().Str("agent", agentName).Str("date", date).Err(res.Err).Msg("agent day finished with an error")
			}
		},
		func() bool {
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		},
	)

	log.Info().Msg("arena run complete")
}

// projectConfig narrows the full runtime config down to the read-only
// fields memstore exposes over the HTTP API.
func projectConfig(cfg *config.Config) memstore.ArenaConfig {
	models := make([]memstore.ModelConfig, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, memstore.ModelConfig{
			ID:       m.ID,
			Name:     m.Name,
			Provider: m.Provider,
			Color:    m.Color,
			Enabled:  m.Enabled,
		})
	}
	return memstore.ArenaConfig{
		InitialCapital: cfg.InitialCapital,
		StartDate:      cfg.StartDate,
		EndDate:        cfg.EndDate,
		Models:         models,
	}
}
