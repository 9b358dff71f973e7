package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/internal/urlutil"
	"github.com/jmylchreest/tvrec/internal/version"
	"github.com/jmylchreest/tvrec/pkg/format"
	"github.com/jmylchreest/tvrec/pkg/httpclient"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Inspect the configured playlists",
	Long: `Load the configured playlists (using the on-disk cache when fresh) and
inspect the channel index without starting the bot.`,
}

var channelsSearchCmd = &cobra.Command{
	Use:   "search <term>...",
	Short: "Search channels by name or id",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChannelsSearch,
}

var channelsListCmd = &cobra.Command{
	Use:   "playlists",
	Short: "List loaded playlists",
	Args:  cobra.NoArgs,
	RunE:  runChannelsPlaylists,
}

var (
	searchPlaylist string
	searchLimit    int
)

func init() {
	channelsSearchCmd.Flags().StringVarP(&searchPlaylist, "playlist", "p", "", "restrict the search to one playlist, e.g. p2")
	channelsSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 25, "maximum results to print (0 for all)")

	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsSearchCmd)
	channelsCmd.AddCommand(channelsListCmd)
}

// loadIndex builds a channel index from the configured playlists.
func loadIndex(ctx context.Context, logger *slog.Logger) *channels.Index {
	idx := channels.New(channels.Config{
		Fetcher:      newFetchClient(logger),
		CacheDir:     cfg.Playlists.CacheDir,
		CacheTTL:     cfg.Playlists.CacheTTL.Duration(),
		FetchTimeout: cfg.Playlists.FetchTimeout.Duration(),
		Logger:       logger,
	})
	idx.Load(ctx, cfg.Playlists.URLs)
	return idx
}

// newFetchClient returns the fetcher used for playlist downloads.
func newFetchClient(logger *slog.Logger) *urlutil.Fetcher {
	hc := httpclient.DefaultConfig()
	hc.Logger = logger
	hc.UserAgent = version.UserAgent()
	hc.Timeout = cfg.Playlists.FetchTimeout.Duration()
	return urlutil.NewFetcher(httpclient.New(hc))
}

func runChannelsSearch(cmd *cobra.Command, args []string) error {
	idx := loadIndex(cmd.Context(), slog.Default())
	results := idx.Search(strings.Join(args, " "), strings.ToLower(searchPlaylist), true)
	if len(results) == 0 {
		return fmt.Errorf("no channels match %q", strings.Join(args, " "))
	}

	total := len(results)
	if searchLimit > 0 && total > searchLimit {
		results = results[:searchLimit]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGROUP")
	for _, c := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Name, c.Group)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(results) {
		fmt.Fprintf(cmd.OutOrStdout(), "... %s more\n", format.Number(int64(total-len(results))))
	}
	return nil
}

func runChannelsPlaylists(cmd *cobra.Command, _ []string) error {
	idx := loadIndex(cmd.Context(), slog.Default())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNELS\tFETCHED\tURL")
	for _, p := range idx.Playlists() {
		fetched := "-"
		if !p.FetchedAt.IsZero() {
			fetched = p.FetchedAt.In(cfg.Recording.Location()).Format("02-01-2006 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, format.Number(int64(p.Channels)), fetched, p.SourceURL)
	}
	return w.Flush()
}
