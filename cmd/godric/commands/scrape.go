package commands

import (
	"context"
	"errors"
	"fmt"
	"godric-backend/lib/configutil"
	"godric-backend/lib/scrapers/goodreads/book"
	"godric-backend/lib/scrapers/goodreads/core"
	"godric-backend/lib/scrapers/goodreads/shelf"
	"godric-backend/lib/telemetry"
	"godric-backend/services/session"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scrapeEmail    *string
	scrapePassword *string
	scrapeSelect   *int
	scrapeHeaded   *bool
)

func init() {
	scrapeEmail = scrapeCmd.Flags().String("email", "", "The account email, defaults to $GODRIC_EMAIL.")
	scrapePassword = scrapeCmd.Flags().String("password", "", "The account password, defaults to $GODRIC_PASSWORD.")
	scrapeSelect = scrapeCmd.Flags().Int("select", -1, "Print the full record of the book at this index.")
	scrapeHeaded = scrapeCmd.Flags().Bool("headed", false, "Show the browser window.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--select <index>]",
	Short: "Signs in, scrapes the reading list and fetches the details of every book on it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		config, err := LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		driverConfig, err := config.DriverConfig()
		if err != nil {
			return err
		}
		if *scrapeHeaded {
			driverConfig.Headless = false
		}
		httpTimeout, err := config.HttpTimeout()
		if err != nil {
			return err
		}

		creds := core.Credentials{
			Email:    *scrapeEmail,
			Password: *scrapePassword,
		}
		if creds.Email == "" {
			creds.Email = configutil.EnvOr("GODRIC_EMAIL", "")
		}
		if creds.Password == "" {
			creds.Password = configutil.EnvOr("GODRIC_PASSWORD", "")
		}
		if creds.Email == "" || creds.Password == "" {
			return fmt.Errorf("an email and password are required, set GODRIC_EMAIL and GODRIC_PASSWORD or pass --email and --password")
		}

		tel, err := telemetry.SetupFromEnv(ctx, "godric")
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			err := tel.Shutdown(context.Background())
			if err != nil {
				slog.Warn("failed to shutdown telemetry", "err", err)
			}
		}()
		telemetry.InstrumentPerfStats(ctx, 15*time.Second)

		o := session.New(session.Goodreads(session.GoodreadsOptions{
			BaseUrl:     config.Site.BaseUrl,
			Shelf:       config.Site.Shelf,
			Selectors:   config.Selectors,
			HttpTimeout: httpTimeout,
			SettleDelay: config.SettleDelay(),
		}))
		slog.Info("starting session", "session_id", o.Id(), "browser", driverConfig.Browser.String())

		return runSession(ctx, o, session.Launch{
			Config:      driverConfig,
			Credentials: creds,
		}, *scrapeSelect, os.Stdout)
	},
}

// runSession drives the orchestrator from launch to logout and prints what
// it reports to `out`.
func runSession(ctx context.Context, o *session.Orchestrator, launch session.Launch, selectIndex int, out io.Writer) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan error, 1)
	go func() {
		exited <- o.Run(runCtx)
	}()

	send := func(cmd session.Command) {
		go func() {
			err := o.Send(runCtx, cmd)
			if err != nil {
				slog.Debug("command not delivered", "command", fmt.Sprintf("%T", cmd), "err", err)
			}
		}()
	}
	send(launch)

	var (
		entries  []shelf.Entry
		records  []book.Record
		failures []error
		pending  int
		failed   error
	)
	finish := func() {
		printDetails(out, entries, records, failures)
		if selectIndex < 0 {
			send(session.Logout{})
			return
		}
		if selectIndex >= len(entries) {
			slog.Warn("selection is out of range", "index", selectIndex, "entries", len(entries))
			send(session.Logout{})
			return
		}
		send(session.SelectItem{Index: selectIndex})
	}

	for ev := range o.Events() {
		switch ev := ev.(type) {
		case session.Connected:
			slog.Info("browser connected")
		case session.LoginSucceeded:
			slog.Info("signed in", "account_id", ev.AccountId)
		case session.CatalogReady:
			entries = ev.Entries
			records = make([]book.Record, len(entries))
			failures = make([]error, len(entries))
			for i, entry := range entries {
				records[i] = book.Placeholder(entry)
			}
			pending = len(entries)
			for _, skipped := range ev.Skipped {
				slog.Warn("skipped reading list row", "page", skipped.Page, "row", skipped.Row, "err", skipped.Err)
			}
			slog.Info("reading list scraped", "entries", len(entries), "skipped", len(ev.Skipped))
			printCatalog(out, entries)
			if pending == 0 {
				finish()
			}
		case session.DetailArrived:
			records[ev.Index] = ev.Record
			failures[ev.Index] = ev.Err
			if ev.Err != nil {
				slog.Warn("failed to fetch book", "index", ev.Index, "kind", session.Classify(ev.Err).String(), "err", ev.Err)
			}
			pending--
			if pending == 0 {
				finish()
			}
		case session.SelectionChanged:
			printRecord(out, records[ev.Index], failures[ev.Index])
			send(session.Logout{})
		case session.LoggedOut:
			slog.Info("logged out")
			cancel()
		case session.Error:
			failed = fmt.Errorf("%s: %w", ev.Kind, ev.Err)
			cancel()
		}
	}

	runErr := <-exited
	if failed != nil {
		return failed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func printCatalog(out io.Writer, entries []shelf.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"#", "Title", "Link"})
	for _, entry := range entries {
		t.AppendRow(table.Row{entry.Position, entry.Title, entry.Link.String()})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func printDetails(out io.Writer, entries []shelf.Entry, records []book.Record, failures []error) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"#", "Title", "Author", "Cover", "Status"})
	for i, entry := range entries {
		status := "ok"
		if failures[i] != nil {
			status = session.Classify(failures[i]).String()
		}
		cover := ""
		if len(records[i].Cover) > 0 {
			cover = fmt.Sprintf("%s, %d bytes", records[i].CoverType, len(records[i].Cover))
		}
		t.AppendRow(table.Row{entry.Position, records[i].Title, records[i].Author, cover, status})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func printRecord(out io.Writer, record book.Record, err error) {
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", record.Source, err)
		return
	}
	fmt.Fprintf(out, "%s\nby %s\n%s\n\n%s\n", record.Title, record.Author, record.Source, record.Summary)
}
