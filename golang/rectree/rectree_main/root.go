package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/tarstars/recommendation_tree/golang/rectree/config"
	"github.com/tarstars/recommendation_tree/golang/rectree/logging"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(*c.logLevel); level != "" {
			cfg.Logging.Level = level
		}
		logging.Init(cfg.Logging)
		c.config = cfg
	})
	return c.config, c.configErr
}

// serverURL is the base URL of a running rectree server.
func (c *commandContext) serverURL() string {
	if url := strings.TrimRight(strings.TrimSpace(*c.serverFlag), "/"); url != "" {
		return url
	}
	return "http://" + c.config.Server.Addr()
}

func (c *commandContext) api() *apiClient {
	return newAPIClient(c.serverURL(), c.config.Server.WriteTimeout)
}

func newRootCommand() *cobra.Command {
	var configFlag, serverFlag, logLevel string
	ctx := &commandContext{configFlag: &configFlag, serverFlag: &serverFlag, logLevel: &logLevel}

	rootCmd := &cobra.Command{
		Use:           "rectree",
		Short:         "Online playlist recommendation tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Base URL of a running server (default from server.host and server.port)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPushCommand(ctx))
	rootCmd.AddCommand(newRecommendCommand(ctx))
	rootCmd.AddCommand(newBulkCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newFitReducerCommand(ctx))

	return rootCmd
}
