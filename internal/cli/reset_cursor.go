package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/stakeplay/internal/control"
	"github.com/vietddude/stakeplay/internal/core/cursor"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [block_height]",
	Short: "Make the projector resume after the given block",
	Long: `Reset the projector cursor so the next run consumes the ledger from
block_height+1. Events already logged are not projected twice.`,
	Args: cobra.ExactArgs(1),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx := context.Background()
	store, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		fatal("Failed to open store", err)
	}
	defer func() {
		_ = store.Close()
	}()

	if err := cursor.NewManager(store.Cursors()).Reset(ctx, cursor.StreamProjector, height); err != nil {
		fatal("Failed to reset cursor", err)
	}

	printf("Successfully reset %s cursor to block %d\n", cursor.StreamProjector, height)
}
