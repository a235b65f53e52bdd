package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/stakeplay/internal/control"
	"github.com/vietddude/stakeplay/internal/core/cursor"
	"github.com/vietddude/stakeplay/internal/leaderboard"
)

var statusTop int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the projector cursor, its lag and the top players",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusTop, "top", 5, "number of leaderboard rows to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Warn("No database configured, showing an empty in-memory store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		fatal("Failed to open store", err)
	}
	defer func() {
		_ = store.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STREAM\tBLOCK\tHEAD\tLAG\tUPDATED")

	head := "-"
	l, err := control.OpenLedger(cfg.Ledger, cfg.Indexer)
	if err != nil {
		fatal("Failed to open ledger", err)
	}
	defer l.Close()
	latest, headErr := l.Client.LatestBlock(ctx)
	if headErr != nil {
		slog.Warn("Failed to read ledger head", "error", headErr)
	} else {
		head = fmt.Sprint(latest)
	}

	mgr := cursor.NewManager(store.Cursors())
	c, err := mgr.Get(ctx, cursor.StreamProjector)
	switch {
	case cursor.IsNotFound(err):
		_, _ = fmt.Fprintf(w, "%s\t-\t%s\t-\t-\n", cursor.StreamProjector, head)
	case err != nil:
		fatal("Failed to read cursor", err)
	default:
		lag := "-"
		if headErr == nil {
			n, _ := mgr.GetLag(ctx, cursor.StreamProjector, latest)
			lag = fmt.Sprint(n)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			c.Stream, c.BlockNumber, head, lag, c.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()

	entries, err := leaderboard.New(store.Players()).TopPlayers(ctx, statusTop)
	if err != nil {
		fatal("Failed to load leaderboard", err)
	}
	printf("\n")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RANK\tPLAYER\tMATCHES\tWINS\tWON\tSTAKED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
			e.Rank, e.Address, e.TotalMatches, e.TotalWins, e.TotalGTWon, e.TotalGTStaked)
	}
	_ = w.Flush()
}
