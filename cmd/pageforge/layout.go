package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/pageforge/internal/cache"
	"github.com/foxzi/pageforge/internal/client"
)

var (
	apiURL       string
	apiToken     string
	apiOrigin    string
	revertExpect string
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Layout commands against a running server",
}

var layoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List layouts",
	RunE:  runLayoutList,
}

var layoutHistoryCmd = &cobra.Command{
	Use:   "history <layout_id>",
	Short: "Show the version history of a layout",
	Args:  cobra.ExactArgs(1),
	RunE:  runLayoutHistory,
}

var layoutRevertCmd = &cobra.Command{
	Use:   "revert <layout_id> <version_id>",
	Short: "Make an earlier version current",
	Args:  cobra.ExactArgs(2),
	RunE:  runLayoutRevert,
}

var layoutWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print invalidation events and keep a refreshed layout cache",
	RunE:  runLayoutWatch,
}

func init() {
	layoutCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("PAGEFORGE_URL", "http://localhost:8080"), "API base URL")
	layoutCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("PAGEFORGE_TOKEN"), "API token")
	layoutCmd.PersistentFlags().StringVar(&apiOrigin, "origin", "", "Origin header sent with requests")
	layoutRevertCmd.Flags().StringVar(&revertExpect, "expect", "", "Fail unless this version is still current")

	layoutCmd.AddCommand(layoutListCmd, layoutHistoryCmd, layoutRevertCmd, layoutWatchCmd)
	rootCmd.AddCommand(layoutCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *client.Client {
	return client.New(apiURL, apiToken, client.WithOrigin(apiOrigin))
}

func runLayoutList(cmd *cobra.Command, args []string) error {
	layouts, err := newClient().ListLayouts(context.Background())
	if err != nil {
		return err
	}
	if len(layouts) == 0 {
		fmt.Println("No layouts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLUG\tTITLE\tCURRENT VERSION\tUPDATED")
	for _, l := range layouts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.Slug, l.Title, l.CurrentVersionID, l.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runLayoutHistory(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := context.Background()

	l, err := c.GetLayout(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tVERSION\tCREATED\tBY\tDRAFT\tSECTIONS\tNOTES")
	for _, v := range l.Versions {
		marker := ""
		if v.VersionID == l.CurrentVersionID {
			marker = " *"
		}
		fmt.Fprintf(w, "%d\t%s%s\t%s\t%s\t%v\t%d\t%s\n",
			v.Seq, v.VersionID, marker, v.CreatedAt.Format("2006-01-02 15:04"), v.CreatedBy, v.IsDraft, len(v.Sections), v.Notes)
	}
	return w.Flush()
}

func runLayoutRevert(cmd *cobra.Command, args []string) error {
	l, err := newClient().Revert(context.Background(), args[0], args[1], revertExpect)
	if err != nil {
		return err
	}
	fmt.Printf("Layout %s now at version %s\n", l.ID, l.CurrentVersionID)
	return nil
}

func runLayoutWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := newClient()
	events, err := c.Watch(ctx)
	if err != nil {
		return err
	}

	lc := cache.New(c.Fetcher(), cache.WithAdmin(true))
	report := func() {
		layouts, err := lc.Layouts(ctx)
		var stale *cache.StaleError
		switch {
		case errors.As(err, &stale):
			fmt.Printf("  refresh failed, serving %d layouts from %s\n", len(layouts), stale.FetchedAt.Format(time.RFC3339))
		case err != nil:
			fmt.Printf("  refresh failed: %v\n", err)
		default:
			fmt.Printf("  %d layouts\n", len(layouts))
		}
	}

	fmt.Println("Watching for layout changes (Ctrl-C to stop)")
	report()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			fmt.Printf("%s %s layout=%s origin=%s\n", e.At.Format(time.RFC3339), e.Kind, e.LayoutID, e.Origin)
			lc.Invalidate()
			report()
		}
	}
}
