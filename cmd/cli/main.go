package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/config"
	"challenge-engine/internal/database"
	"challenge-engine/internal/notify"
	"challenge-engine/internal/service"
	"challenge-engine/internal/snapshot"
	"challenge-engine/internal/strava"
	"challenge-engine/internal/syncer"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize database: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch command {
	case "sweep-status":
		handleSweepStatus(ctx, db, cfg)
	case "sweep-sync":
		handleSweepSync(ctx, db, cfg)
	case "sweep-weekly":
		handleSweepWeekly(ctx, db)
	case "show":
		handleShow(ctx, db)
	case "link":
		handleLink(ctx, db)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`challenge-engine CLI - Sweep and Challenge Administration

Usage:
  cli <command> [options]

Commands:
  sweep-status   Apply every due status transition once
  sweep-sync     Sync progress of every ACTIVE challenge once
  sweep-weekly   Record weekly results for the last full week
  show <id>      Print a challenge with its standings and weekly results
  link <user_id> <athlete_id> <access_token> <refresh_token> <expires_at>
                 Link a Strava account; expires_at is a unix timestamp
  help           Show this help message

Examples:
  cli sweep-status
  cli show 7b0c6a44-2f7e-4d55-9d8e-8f0f3c1a2b3c
  cli link alice 12345 abc def 1767225600

Environment Variables Required:
  STRAVA_CLIENT_ID       - Strava application client ID
  STRAVA_CLIENT_SECRET   - Strava application client secret
  INTERNAL_API_KEY       - Shared key for the HTTP API
  DATABASE_PATH          - SQLite database file (default: ./data.db)`)
}

func newOrchestrator(db *database.DB, cfg *config.Config) *syncer.Orchestrator {
	client := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, db)
	if cfg.StravaAPIBaseURL != "" {
		client.SetBaseURL(cfg.StravaAPIBaseURL)
	}
	if cfg.StravaTokenURL != "" {
		client.SetTokenURL(cfg.StravaTokenURL)
	}

	return syncer.New(db, client, nil, syncer.Config{
		Concurrency:   cfg.SyncConcurrency,
		RatePerSecond: cfg.SyncRatePerSecond,
		LazyCooldown:  cfg.LazySyncCooldown,
	})
}

func handleSweepStatus(ctx context.Context, db *database.DB, cfg *config.Config) {
	notifier := notify.NewNotifier(notify.NewStoreSink(db, nil), nil)
	svc := service.New(db, notifier, newOrchestrator(db, cfg))

	report, err := svc.RunDailyStatusSweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Status sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Status sweep finished")
	fmt.Printf("  Visited: %d\n", report.Visited)
	fmt.Printf("  Transitioned: %d\n", report.Transitioned)
	fmt.Printf("  Failed: %d\n", report.Failed)
}

func handleSweepSync(ctx context.Context, db *database.DB, cfg *config.Config) {
	report, err := newOrchestrator(db, cfg).RunSyncSweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Sync sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Sync sweep finished")
	fmt.Printf("  Challenges: %d\n", report.Challenges)
	fmt.Printf("  Synced: %d\n", report.Synced)
	fmt.Printf("  Skipped: %d\n", report.Skipped)
	fmt.Printf("  Failed: %d\n", report.Failed)
}

func handleSweepWeekly(ctx context.Context, db *database.DB) {
	report, err := snapshot.New(db).RunWeeklySnapshotSweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Weekly sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Weekly sweep finished")
	fmt.Printf("  Visited: %d\n", report.Visited)
	fmt.Printf("  Written: %d\n", report.Written)
	fmt.Printf("  Skipped: %d\n", report.Skipped)
	fmt.Printf("  Failed: %d\n", report.Failed)
}

func handleShow(ctx context.Context, db *database.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: Challenge ID required")
		fmt.Fprintln(os.Stderr, "Usage: cli show <challenge_id>")
		os.Exit(1)
	}

	c, err := db.GetChallenge(ctx, os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if c == nil {
		fmt.Fprintf(os.Stderr, "Error: Challenge %s not found\n", os.Args[2])
		os.Exit(1)
	}

	fmt.Println("Challenge Details:")
	fmt.Printf("  ID: %s\n", c.ID)
	fmt.Printf("  Name: %s\n", c.Name)
	fmt.Printf("  Status: %s\n", c.Status)
	fmt.Printf("  Invite Code: %s\n", c.InviteCode)
	fmt.Printf("  Dates: %s to %s (%s)\n", challenge.FormatDate(c.StartDate), challenge.FormatDate(c.EndDate), c.Timezone)
	fmt.Printf("  Sports: %v\n", c.Sports)
	if c.WinnerID != nil {
		fmt.Printf("  Winner: %s\n", *c.WinnerID)
	}

	fmt.Printf("\nParticipants (%d):\n", len(c.Participants))
	for _, p := range c.Participants {
		fmt.Printf("  %s", p.UserID)
		if p.UserName != "" {
			fmt.Printf(" (%s)", p.UserName)
		}
		if p.HasForfeited() {
			fmt.Printf(" forfeited %s", p.ForfeitedAt.Format(time.RFC3339))
		}
		fmt.Println()

		latest, err := db.GetLatestProgress(ctx, c.ID, p.UserID, time.Time{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if latest == nil {
			fmt.Println("    No progress recorded")
			continue
		}
		fmt.Printf("    %d%% as of %s\n", latest.OverallPercent, challenge.FormatDate(latest.Date))
		for _, sport := range c.Sports {
			fmt.Printf("    %s: %.2f / %.2f km\n", sport, float64(latest.Meters[sport])/1000, p.Goals[sport])
		}
	}

	weeks, err := db.ListWeekResults(ctx, c.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(weeks) == 0 {
		return
	}

	fmt.Printf("\nWeekly Results (%d):\n", len(weeks))
	for _, w := range weeks {
		winner := "tie"
		if w.WinnerID != nil {
			winner = *w.WinnerID
		}
		fmt.Printf("  %s  %s %d%% vs %s %d%%  winner: %s\n",
			challenge.FormatDate(w.WeekStart), w.UserAID, w.UserAPercent, w.UserBID, w.UserBPercent, winner)
	}
}

func handleLink(ctx context.Context, db *database.DB) {
	if len(os.Args) < 7 {
		fmt.Fprintln(os.Stderr, "Error: Missing arguments")
		fmt.Fprintln(os.Stderr, "Usage: cli link <user_id> <athlete_id> <access_token> <refresh_token> <expires_at>")
		os.Exit(1)
	}

	athleteID, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid athlete ID: %s\n", os.Args[3])
		os.Exit(1)
	}
	expiresAt, err := strconv.ParseInt(os.Args[6], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid expires_at: %s\n", os.Args[6])
		os.Exit(1)
	}

	conn := &database.Connection{
		UserID:       os.Args[2],
		AthleteID:    athleteID,
		AccessToken:  os.Args[4],
		RefreshToken: os.Args[5],
		ExpiresAt:    time.Unix(expiresAt, 0),
	}
	if err := db.UpsertConnection(ctx, conn); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to link account: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Strava account linked successfully!")
	fmt.Printf("  User: %s\n", conn.UserID)
	fmt.Printf("  Athlete ID: %d\n", conn.AthleteID)
	fmt.Printf("  Token expires: %s\n", conn.ExpiresAt.Format(time.RFC3339))
}
