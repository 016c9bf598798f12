package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forum-mirror/scanner"
)

var syncFlags struct {
	guildID      int64
	channelID    int64
	threadID     int64
	limit        int
	skipExisting bool
	token        string
	forceFull    bool
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	Long: `sync opens the gateway, runs a single orchestrator pass (full or
delta, chosen from the persisted cursor unless --force-full), and exits 0
on success or 1 on any orchestrator failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, syncFlags.token)
		if err != nil {
			return err
		}
		defer a.close()

		// The guild cache fills on ready; the traversal needs it unless
		// scoped to an explicit guild.
		if err := a.bot.Open(ctx); err != nil {
			return err
		}

		stats, err := a.orch.Run(ctx, scanner.Options{
			ForceFull:    syncFlags.forceFull || a.cfg.ForceFullSync,
			GuildID:      syncFlags.guildID,
			ChannelID:    syncFlags.channelID,
			ThreadID:     syncFlags.threadID,
			Limit:        syncFlags.limit,
			SkipExisting: syncFlags.skipExisting,
		})
		if err != nil {
			return err
		}
		a.log.Info("sync complete",
			zap.Int("threads", stats.Threads),
			zap.Int("posts", stats.Posts),
			zap.Int("errors", stats.Errors))
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64Var(&syncFlags.guildID, "guild", 0, "restrict the sync to one guild ID")
	syncCmd.Flags().Int64Var(&syncFlags.channelID, "channel", 0, "restrict the sync to one forum channel ID")
	syncCmd.Flags().Int64Var(&syncFlags.threadID, "thread", 0, "restrict the sync to one thread ID")
	syncCmd.Flags().IntVar(&syncFlags.limit, "limit", 0, "cap the number of threads processed")
	syncCmd.Flags().BoolVar(&syncFlags.skipExisting, "skip-existing", false, "skip threads already in the store")
	syncCmd.Flags().StringVar(&syncFlags.token, "token", "", "platform token (overrides DISCORD_TOKEN)")
	syncCmd.Flags().BoolVar(&syncFlags.forceFull, "force-full", false, "ignore the cursor and run a full backfill")

	rootCmd.AddCommand(syncCmd)
}
