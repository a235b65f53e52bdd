package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vietddude/stakeplay/internal/control"
	"github.com/vietddude/stakeplay/internal/indexing/projector"
)

var rebuild bool

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Project logged events that have not been applied yet",
	Long: `Fold every logged but unprojected ledger event into the match and player
projections, then exit. With --rebuild the projections are cleared first and the
whole event log is folded again.`,
	Run: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&rebuild, "rebuild", false, "clear projections and fold the whole event log")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()
	store, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		fatal("Failed to open store", err)
	}
	defer func() {
		_ = store.Close()
	}()

	p := projector.New(store)
	var n int
	if rebuild {
		n, err = p.Rebuild(ctx)
	} else {
		n, err = p.Replay(ctx, 0)
	}
	if err != nil {
		fatal("Replay failed", err)
	}
	printf("Projected %d events\n", n)
}
