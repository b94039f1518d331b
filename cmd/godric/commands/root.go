package commands

import (
	"context"
	"fmt"
	"godric-backend/lib/configutil"
	"godric-backend/lib/restyutil"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/telemetry"
	"godric-backend/lib/webdriver"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	debug      *bool
	logFile    *string
	dumpHttp   *bool
)

var rootCmd = &cobra.Command{
	Use:   "godric",
	Short: "godric signs into goodreads and scrapes your reading list.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(*debug, *logFile)

		err := configutil.LoadDotenv()
		if err != nil {
			return err
		}

		if *dumpHttp {
			out, err := restyutil.NewFilesystemOutput("<dev_state>/http")
			if err != nil {
				return fmt.Errorf("create http dump directory: %w", err)
			}
			core.SetRestyInstrumentOutput(out)
			webdriver.SetRestyInstrumentOutput(out)
			slog.Info("dumping http traffic", "dir", out.Directory())
		}
		return nil
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "godric.json5", "The config file to read, godric.local.json5 is merged over it.")
	debug = rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging.")
	logFile = rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this (rotated) file.")
	dumpHttp = rootCmd.PersistentFlags().Bool("dump-http", false, "Write every http exchange to dev/.state/http, credentials are redacted.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
