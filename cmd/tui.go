package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"todo-app/todo"
	"todo-app/tui"
	"todo-app/ui"
)

var tuiLogFile string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Manage todos from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		// the alt screen owns stdout, so logs go to a file or nowhere
		logger.SetOutput(io.Discard)
		if tuiLogFile != "" {
			f, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			logger.SetOutput(f)
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl := ui.NewController(todo.NewService(a.store, logger), logger)
		return tui.Run(ctx, ctrl)
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiLogFile, "log-file", "", "append logs to this file")
}
