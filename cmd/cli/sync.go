package cli

// -----------------------------------------------------------------------------
// sync.go – sync-file CLI
// -----------------------------------------------------------------------------
// Commands after RegisterSync(root):
//   sync list               – available and subscribed sync files
//   sync subscribe <name>   – subscribe and fetch content into SyncFiles/
//   sync save               – arm the watcher after editing a sync file
// -----------------------------------------------------------------------------

import (
	"github.com/spf13/cobra"
)

// RegisterSync wires the sync command group onto root.
func RegisterSync(root *cobra.Command) {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Subscribe to and propagate sync files",
	}
	syncCmd.PersistentFlags().String("api", "", "status API address of the running node")

	list := &cobra.Command{
		Use:   "list",
		Short: "list available and subscribed sync files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiGet(cmd, "/syncfiles")
		},
	}

	subscribe := &cobra.Command{
		Use:   "subscribe <filename>",
		Short: "subscribe to a sync file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiPost(cmd, "/subscribe", map[string]string{"filename": args[0]})
		},
	}

	save := &cobra.Command{
		Use:   "save",
		Short: "propagate local sync-file edits on the next watcher cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiPost(cmd, "/save", map[string]string{})
		},
	}

	syncCmd.AddCommand(list, subscribe, save)
	root.AddCommand(syncCmd)
}
