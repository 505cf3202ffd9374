package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todo-app/config"
)

var (
	configDir string
	cfg       *config.Config

	rootCmd = &cobra.Command{
		Use:   "todo",
		Short: "A minimal live todo list",
		Long:  `todo keeps a shared todo list in a document store and serves it to browsers, API clients and the terminal, live.`,

		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configDir); err != nil {
				return err
			}
			if cfg.Debug {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "", "directory holding config.yml (default is $TODO_CONFIG_DIR)")
	rootCmd.AddCommand(serveCmd, tuiCmd, initStorageCmd)
}

func newLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.GetLevel())
	return logger
}
