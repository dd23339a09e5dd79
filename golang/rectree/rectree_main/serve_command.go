package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tarstars/recommendation_tree/golang/rectree/classifiers"
	"github.com/tarstars/recommendation_tree/golang/rectree/config"
	"github.com/tarstars/recommendation_tree/golang/rectree/features"
	"github.com/tarstars/recommendation_tree/golang/rectree/journal"
	"github.com/tarstars/recommendation_tree/golang/rectree/logging"
	"github.com/tarstars/recommendation_tree/golang/rectree/playlists"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"github.com/tarstars/recommendation_tree/golang/rectree/server"
	"github.com/tarstars/recommendation_tree/golang/rectree/spotify"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recommendation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, ctx.config)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.WithComponent("serve")

	lock := flock.New(cfg.Server.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", cfg.Server.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another rectree server holds %s", cfg.Server.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	tree, err := newTree(cfg)
	if err != nil {
		return err
	}

	catalogCfg := cfg.Spotify
	if catalogCfg.RedirectURL == "" {
		catalogCfg.RedirectURL = cfg.Server.CallbackURL()
	}
	auth := spotify.NewAuth(catalogCfg, nil)
	catalog := spotify.NewClient(catalogCfg, auth, spotify.WithLogger(logging.WithComponent("spotify")))

	deps := server.Deps{
		Tree:             rtl.NewSafeTree(tree),
		Catalog:          catalog,
		Dump:             playlists.Dump{Dir: cfg.Paths.PlaylistSource},
		RecommendMutates: cfg.Tree.RecommendMutates,
		Logger:           logging.WithComponent("service"),
	}

	reducer, err := loadReducer(cfg.Paths.Reducer, logger)
	if err != nil {
		return err
	}
	if reducer != nil {
		deps.Reducer = reducer
	}

	if cfg.Paths.Journal != "" {
		j, err := journal.Open(cfg.Paths.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		deps.Journal = j
	}

	var authenticator server.Authenticator
	if !catalogCfg.ClientCredentials {
		authenticator = auth
		logger.Info().Str("url", "http://"+cfg.Server.Addr()+"/login/").Msg("open to authorize catalog access")
	}

	srv := server.New(server.NewService(deps), authenticator, cfg.Server, logging.WithComponent("server"))
	return srv.Run(ctx)
}

func newTree(cfg *config.Config) (*rtl.Tree, error) {
	factory, err := classifiers.NewFactory(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	return rtl.NewTree(factory,
		rtl.WithSeed(cfg.Tree.Seed),
		rtl.WithLogger(logging.WithComponent("tree")),
	)
}

// loadReducer returns nil when no reducer file exists; rows then go to the tree unreduced.
func loadReducer(path string, logger zerolog.Logger) (*features.Reducer, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", path).Msg("no reducer file, using all feature columns")
		return nil, nil
	}
	reducer, err := features.LoadReducer(path)
	if err != nil {
		return nil, fmt.Errorf("load reducer: %w", err)
	}
	logger.Info().Str("path", path).Int("components", reducer.Components()).Msg("loaded reducer")
	return reducer, nil
}
