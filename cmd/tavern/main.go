// Command tavern plays a cooperative story with an AI dungeon master in the terminal.
//
//	tavern [flags] [new | load [slot] | host | join <session-id>]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tavern/internal/cli"
	"tavern/internal/core"
	"tavern/internal/multiplayer"
	"tavern/internal/multiplayer/mongostore"
	"tavern/internal/multiplayer/wsrelay"
	"tavern/internal/oracle"
	"tavern/internal/repository"
	"tavern/pkg/game"
)

func main() {
	characterPath := flag.String("character", "", "YAML character sheet (default: the pre-built ranger)")
	saveDir := flag.String("saves", "", "save directory (overrides TAVERN_SAVE_DIR)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: tavern [flags] [new | load [slot] | host | join <session-id>]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	opening, err := parseOpening(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opening, *characterPath, *saveDir); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func parseOpening(args []string) (cli.Opening, error) {
	if len(args) == 0 {
		return cli.Opening{Mode: cli.ModeNew}, nil
	}
	opening := cli.Opening{Mode: cli.Mode(args[0])}
	if len(args) > 1 {
		opening.Arg = args[1]
	}
	switch opening.Mode {
	case cli.ModeNew, cli.ModeLoad, cli.ModeHost:
	case cli.ModeJoin:
		if opening.Arg == "" {
			return opening, fmt.Errorf("join needs a session id")
		}
	default:
		return opening, fmt.Errorf("unknown mode %q", args[0])
	}
	return opening, nil
}

func run(ctx context.Context, opening cli.Opening, characterPath, saveDir string) error {
	cfg, err := core.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := core.NewLogger(cfg.LogLevel)
	core.SetDefault(logger)
	if saveDir == "" {
		saveDir = cfg.SaveDir
	}

	character := game.DefaultCharacter()
	if characterPath != "" {
		if character, err = repository.ReadCharacter(characterPath); err != nil {
			return err
		}
	}

	opts := core.SessionOptions{
		Retry:         cfg.RetryPolicy(),
		MaxToolRounds: cfg.MaxToolRounds,
		Summary:       core.EveryN{N: cfg.SummaryEvery},
		SummaryWindow: cfg.SummaryWindow,
		Logger:        logger,
	}
	if cfg.Offline || cfg.GeminiAPIKey == "" {
		logger.Info("Using the offline narrator")
		_, model := oracle.RegisterOfflineNarrator(ctx)
		opts.Oracle = oracle.NewGenkitOracle(model)
	} else {
		gemini, err := oracle.NewGeminiOracle(ctx, cfg.OracleConfig())
		if err != nil {
			return err
		}
		opts.Oracle, opts.Summarizer, opts.Images = gemini, gemini, gemini
	}

	session, err := core.NewSession(character, opts)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fmt.Println("🍺 tavern: type /help for commands")
	c, err := cli.NewCLISession(session, repository.NewSaveStore(saveDir), store, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}
	return c.Run(ctx, opening)
}

// openStore picks the shared session store: a relay server, MongoDB, or none.
func openStore(ctx context.Context, cfg *core.Config, logger core.Logger) (multiplayer.Store, func(), error) {
	switch {
	case cfg.RelayURL != "":
		client, err := wsrelay.Dial(ctx, cfg.RelayURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	case cfg.MongoURI != "":
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close(context.Background()) }, nil
	}
	return nil, func() {}, nil
}
