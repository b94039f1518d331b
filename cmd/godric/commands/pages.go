package commands

import (
	"fmt"
	"godric-backend/lib/htmlutil"
	"godric-backend/lib/scrapers/goodreads/shelf"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pagesCmd)
}

var pagesCmd = &cobra.Command{
	Use:   "pages <saved reading list page.html>",
	Short: "Parses a saved reading list page and prints its page count and rows.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		contents, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return inspectPage(cmd, contents, config, os.Stdout)
	},
}

func inspectPage(cmd *cobra.Command, contents []byte, config Config, out io.Writer) error {
	base, err := url.Parse(config.Site.BaseUrl)
	if err != nil {
		return fmt.Errorf("site.base_url: %w", err)
	}
	doc, err := htmlutil.ParseDocument(contents)
	if err != nil {
		return err
	}

	count, err := shelf.DiscoverPageCount(cmd.Context(), doc, config.Selectors)
	if err != nil {
		return err
	}
	entries, rowErrors := shelf.ScrapePage(cmd.Context(), doc, 1, base, config.Selectors)

	fmt.Fprintf(out, "pages: %d\n", count)
	printCatalog(out, entries)
	for _, rowErr := range rowErrors {
		fmt.Fprintf(out, "row %d: %v\n", rowErr.Row, rowErr.Err)
	}
	return nil
}
