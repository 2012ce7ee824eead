package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wardenlabs/timewarden/internal/bot"
	"github.com/wardenlabs/timewarden/internal/database"
	"github.com/wardenlabs/timewarden/internal/escalation"
	"github.com/wardenlabs/timewarden/internal/pause"
	"github.com/wardenlabs/timewarden/internal/setup"
	"github.com/wardenlabs/timewarden/internal/setup/telemetry"
	"github.com/wardenlabs/timewarden/internal/tracker"
	"github.com/wardenlabs/timewarden/internal/worker/sweep"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize application with required dependencies
	app, err := setup.InitializeApp(ctx, telemetry.ServiceBot, BotLogDir)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup(ctx)

	// Assemble the tracking subsystems. The tracker and pause controller
	// reference each other, so the cross-links are bound after construction.
	ledger := database.NewLedgerFacade(app.DB)
	trk := tracker.New(app.SessionStore, ledger, app.Logger)
	pauseCtrl := pause.NewController(nil, app.Logger)

	trk.BindSuspendChecker(pauseCtrl)
	pauseCtrl.BindSessions(trk)

	engine := escalation.New(
		app.DB.Model().Assignment(),
		app.DB.Model().Warning(),
		app.DB.Model().RoleConfig(),
		app.DB.Model().GuildSetting(),
		trk, pauseCtrl,
		app.TrackingEpoch,
		app.Logger,
	)

	// Create bot instance
	discordBot, err := bot.New(app.Config.Discord.Token, app.DB, trk, pauseCtrl, engine, app.Logger)
	if err != nil {
		log.Printf("Failed to create bot: %v", err)
		return
	}

	// Start the daily escalation sweep in the background
	sweeper := sweep.New(app.DB, engine, app.Config.Tracking.SweepHour,
		app.LogManager.GetWorkerLogger("sweep"))
	go sweeper.Start(ctx)

	// Start the bot and connect to Discord
	if err := discordBot.Start(ctx); err != nil {
		log.Printf("Failed to start bot: %v", err)
		return
	}

	log.Println("Bot has been started. Waiting for interrupt signal to gracefully shutdown...")

	// Wait for interrupt signal to gracefully shutdown the bot
	// This ensures all pending events are processed before closing
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	cancel()
	discordBot.Close(context.Background())
}
