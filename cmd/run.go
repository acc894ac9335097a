package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/backend"
	"github.com/shopclerk/shopclerk/internal/browser"
	"github.com/shopclerk/shopclerk/internal/engine"
	"github.com/shopclerk/shopclerk/internal/extractor"
	"github.com/shopclerk/shopclerk/internal/humanoid"
	"github.com/shopclerk/shopclerk/internal/knowledge"
	"github.com/shopclerk/shopclerk/internal/locator"
	"github.com/shopclerk/shopclerk/internal/observability"
	"github.com/shopclerk/shopclerk/internal/store"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the polling-and-reply engine.",
		Long: `Opens the seller chat console in a driven browser, waits for a logged-in
session, then polls for unread buyer messages and answers them until
interrupted. Stop with Ctrl+C; shutdown completes within about a second.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd)
		},
	}
}

func runEngine(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg := loadedConfig
	logger := observability.GetLogger()

	db, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer db.Close()

	kb, err := knowledge.NewBase(cfg.Knowledge, logger)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}
	logger.Info(kb.Status())

	generator, err := backend.New(cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("failed to build reply backend: %w", err)
	}

	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer session.Close()

	strategy := locator.New(session, logger,
		locator.WithTimeouts(cfg.Engine.RuleTimeout, cfg.Engine.LocateTimeout))

	eng := engine.New(engine.Deps{
		Browser:   session,
		Locator:   strategy,
		Extractor: extractor.New(strategy, session, logger),
		Dedup:     store.NewDedupTracker(db, cfg.Store.DedupCap),
		History:   store.NewConversationStore(db, cfg.Store.MaxHistoryTurns),
		Stats:     store.NewStatsRecorder(db),
		Generator: generator,
		Typist:    humanoid.New(session, cfg.Timing, logger),
		Knowledge: kb,
	}, cfg, logger)

	if err := eng.Run(ctx); err != nil {
		if errors.Is(err, engine.ErrFatalAuthTimeout) {
			fmt.Fprintln(os.Stderr,
				"Login was not completed in time. Start shopclerk again and sign in to the chat console manually.")
		}
		return err
	}

	logger.Info("Engine stopped.", zap.String("reason", "shutdown signal"))
	return nil
}
