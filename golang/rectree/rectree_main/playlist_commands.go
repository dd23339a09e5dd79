package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tarstars/recommendation_tree/golang/rectree/config"
	"github.com/tarstars/recommendation_tree/golang/rectree/logging"
	"github.com/tarstars/recommendation_tree/golang/rectree/playlists"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
)

const noRecommendation = "(none)"

func newPushCommand(ctx *commandContext) *cobra.Command {
	var npyFiles []string
	var renderPath string

	cmd := &cobra.Command{
		Use:   "push [playlist...]",
		Short: "Push playlists into the server tree, or replay npy matrices into a local tree",
		Long: `Without --npy every argument is a playlist id pushed to the running server.
With --npy the matrices are pushed in order into a fresh local tree, each labelled with
its file name, and the label every push routed to is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(npyFiles) > 0 {
				if len(args) > 0 {
					return errors.New("playlist ids and --npy cannot be combined")
				}
				return replay(cmd.OutOrStdout(), ctx.config, npyFiles, renderPath)
			}
			if len(args) == 0 {
				return errors.New("at least one playlist id is required")
			}
			client := ctx.api()
			for _, id := range args {
				if err := client.push(cmd.Context(), id); err != nil {
					return fmt.Errorf("push %s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&npyFiles, "npy", nil, "Matrix file to push into a local tree (repeatable)")
	cmd.Flags().StringVar(&renderPath, "render", "", "With --npy, write the resulting tree to this file (format from extension)")
	return cmd
}

// replay pushes every matrix into a local tree built from cfg and prints one row per push.
func replay(out io.Writer, cfg *config.Config, files []string, renderPath string) error {
	tree, err := newTree(cfg)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(files))
	for _, file := range files {
		data, err := rtl.ReadNpy(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		label := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		recommended, found, err := tree.Push(data, label, true)
		if err != nil {
			return fmt.Errorf("push %s: %w", file, err)
		}
		if !found {
			recommended = noRecommendation
		}
		rows = append(rows, []string{label, strconv.Itoa(rtl.Height(data)), recommended})
	}
	fmt.Fprintln(out, renderTable([]string{"Label", "Rows", "Recommended"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))

	if renderPath == "" {
		return nil
	}
	format, err := rtl.ParseFormat(strings.TrimPrefix(filepath.Ext(renderPath), "."))
	if err != nil {
		return err
	}
	f, err := os.Create(renderPath)
	if err != nil {
		return err
	}
	if err := tree.Render(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newRecommendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <playlist>",
		Short: "Ask the server for a recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recommended, err := ctx.api().recommend(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if recommended == nil {
				fmt.Fprintln(cmd.OutOrStdout(), noRecommendation)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), *recommended)
			return nil
		},
	}
}

func newBulkCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var limit int

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Push every playlist of the dump to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = ctx.config.Paths.PlaylistSource
			}
			ids, err := playlists.Dump{Dir: dir}.List()
			if err != nil {
				return fmt.Errorf("list dump %s: %w", dir, err)
			}
			if limit > 0 && len(ids) > limit {
				ids = ids[:limit]
			}

			logger := logging.WithComponent("bulk")
			client := ctx.api()
			out := cmd.OutOrStdout()
			failed := 0
			for _, id := range ids {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				if err := client.push(cmd.Context(), id); err != nil {
					failed++
					logger.Warn().Err(err).Str("playlist", id).Msg("push failed")
					fmt.Fprintf(out, "ERROR ----- %s\n", id)
					continue
				}
				fmt.Fprintln(out, id)
			}
			fmt.Fprintf(out, "Done: %d pushed, %d failed\n", len(ids)-failed, failed)
			if failed > 0 && failed == len(ids) {
				return errors.New("every push failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Dump directory (default paths.playlist_source)")
	cmd.Flags().IntVar(&limit, "limit", 10000, "Maximum number of playlists to push, 0 for all")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the shape of the server tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := ctx.api().stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
}

func renderStats(stats rtl.Stats) string {
	rows := [][]string{
		{"Leaves", strconv.Itoa(stats.Leaves)},
		{"Splits", strconv.Itoa(stats.Splits)},
		{"Depth", strconv.Itoa(stats.Depth)},
		{"Rows", strconv.Itoa(stats.Rows)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Download a drawing of the server tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := rtl.ParseFormat(format); err != nil {
				return err
			}
			if output == "" {
				output = "tree." + format
			}
			if output == "-" {
				return ctx.api().render(cmd.Context(), format, cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := ctx.api().render(cmd.Context(), format, f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "svg", "Image format: svg, png, jpg or dot")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout (default tree.<format>)")
	return cmd
}
