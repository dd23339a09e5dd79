package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tarstars/recommendation_tree/golang/rectree/config"
	"github.com/tarstars/recommendation_tree/golang/rectree/features"
	"github.com/tarstars/recommendation_tree/golang/rectree/logging"
	"github.com/tarstars/recommendation_tree/golang/rectree/playlists"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"github.com/tarstars/recommendation_tree/golang/rectree/server"
	"github.com/tarstars/recommendation_tree/golang/rectree/spotify"
	"gonum.org/v1/gonum/mat"
)

func newFitReducerCommand(ctx *commandContext) *cobra.Command {
	var input, output string
	var components, limit int
	var fromDump bool

	cmd := &cobra.Command{
		Use:   "fit-reducer",
		Short: "Fit the PCA reducer applied to scaled playlist features",
		Long: `With --input the matrix holds raw feature rows (one column per audio feature) and is
scaled as a whole. With --from-dump the features of the dump playlists are fetched from the
catalog with client credentials and every playlist is scaled on its own, as the server does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (input == "") == !fromDump {
				return errors.New("exactly one of --input and --from-dump is required")
			}
			if output == "" {
				output = ctx.config.Paths.Reducer
			}

			var training *mat.Dense
			var err error
			if fromDump {
				training, err = dumpTrainingRows(cmd.Context(), ctx.config, limit)
			} else {
				training, err = npyTrainingRows(input)
			}
			if err != nil {
				return err
			}
			return fitReducer(cmd.OutOrStdout(), training, components, output)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Matrix of raw feature rows")
	cmd.Flags().BoolVar(&fromDump, "from-dump", false, "Fetch training rows for the dump playlists from the catalog")
	cmd.Flags().IntVar(&limit, "limit", 1000, "With --from-dump, maximum number of playlists, 0 for all")
	cmd.Flags().IntVarP(&components, "components", "k", 5, "Number of principal components kept")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Reducer file (default paths.reducer)")
	return cmd
}

func fitReducer(out io.Writer, training *mat.Dense, components int, output string) error {
	reducer, err := features.FitReducer(training, components)
	if err != nil {
		return fmt.Errorf("fit reducer: %w", err)
	}
	if err := reducer.Save(output); err != nil {
		return fmt.Errorf("save reducer: %w", err)
	}
	fmt.Fprintf(out, "reducer with %d components over %d rows written to %s\n",
		reducer.Components(), rtl.Height(training), output)
	return nil
}

func npyTrainingRows(path string) (*mat.Dense, error) {
	raw, err := rtl.ReadNpy(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if w := rtl.Width(raw); w != len(features.Columns) {
		return nil, &rtl.DimensionMismatchError{Expected: len(features.Columns), Actual: w}
	}
	return features.Scale(raw)
}

// dumpTrainingRows stacks the scaled feature rows of the dump playlists. Playlists that fail
// are logged and skipped.
func dumpTrainingRows(ctx context.Context, cfg *config.Config, limit int) (*mat.Dense, error) {
	if !cfg.Spotify.ClientCredentials {
		return nil, errors.New("--from-dump needs spotify.client_credentials")
	}
	dump := playlists.Dump{Dir: cfg.Paths.PlaylistSource}
	ids, err := dump.List()
	if err != nil {
		return nil, fmt.Errorf("list dump %s: %w", dump.Dir, err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	logger := logging.WithComponent("fit-reducer")
	auth := spotify.NewAuth(cfg.Spotify, nil)
	catalog := spotify.NewClient(cfg.Spotify, auth, spotify.WithLogger(logging.WithComponent("spotify")))
	service := server.NewService(server.Deps{Catalog: catalog, Dump: dump, Logger: logger})

	var data []float64
	rows := 0
	for _, id := range ids {
		scaled, err := service.Prepare(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Err(err).Str("playlist", id).Msg("skipping playlist")
			continue
		}
		h, _ := scaled.Dims()
		for p := 0; p < h; p++ {
			data = append(data, scaled.RawRowView(p)...)
		}
		rows += h
	}
	if rows == 0 {
		return nil, rtl.ErrEmptyInput
	}
	return mat.NewDense(rows, len(features.Columns), data), nil
}
