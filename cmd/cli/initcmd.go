package cli

// -----------------------------------------------------------------------------
// initcmd.go – scaffold a config file and the data directories
// -----------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"syncmesh/pkg/config"
)

// RegisterInit wires the init command onto root.
func RegisterInit(root *cobra.Command) {
	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "write a default config file and create Files/ and SyncFiles/",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			for _, sub := range []string{"Files", "SyncFiles", "config"} {
				if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
					return err
				}
			}

			var cfg config.Config
			cfg.Node.Host = "127.0.0.1"
			cfg.Node.Port = 59878
			cfg.Node.DataRoot = "."
			cfg.Network.ConnectTimeoutS = 15
			cfg.Network.DownloadTimeoutS = 20
			cfg.Network.ChunkSize = 4096
			cfg.Network.MaxConns = 10
			cfg.Network.WatcherIntervalMS = 500
			cfg.API.Addr = "127.0.0.1:7410"
			cfg.Logging.Level = "info"

			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, "config", "default.yaml")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	root.AddCommand(initCmd)
}
