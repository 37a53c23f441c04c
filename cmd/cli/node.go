package cli

// -----------------------------------------------------------------------------
// node.go – node lifecycle CLI
// -----------------------------------------------------------------------------
// Commands after RegisterNode(root):
//   node start   – boot the mesh node, block until SIGINT/SIGTERM
//   node status  – show a running node's summary
//   node peers   – list the roster
// -----------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"syncmesh/core"
	"syncmesh/pkg/config"
)

func nodeInit(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		// No config file is fine; flags and env cover everything.
		logrus.Debugf("config: %v", err)
		cfg = &config.AppConfig
	}
	if cfg.Logging.Level != "" {
		lv, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return err
		}
		logrus.SetLevel(lv)
	}
	return nil
}

func startRun(cmd *cobra.Command, _ []string) error {
	coreCfg := config.AppConfig.Core()

	// Flags override file/env configuration.
	if v, _ := cmd.Flags().GetString("username"); v != "" {
		coreCfg.Username = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		coreCfg.ListenHost = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		coreCfg.ListenPort = v
	}
	if v, _ := cmd.Flags().GetString("bootstrap"); v != "" {
		coreCfg.BootstrapAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-root"); v != "" {
		coreCfg.DataRoot = v
	}
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		coreCfg.APIAddr = v
	}

	node, err := core.NewNode(coreCfg, logrus.StandardLogger())
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}
	if coreCfg.BootstrapAddr == "" {
		fmt.Println("no bootstrap peer configured; waiting for the first peer to connect")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("shutting down")
	return node.Close()
}

// RegisterNode wires the node command group onto root.
func RegisterNode(root *cobra.Command) {
	nodeCmd := &cobra.Command{
		Use:               "node",
		Short:             "Run and inspect the mesh node",
		PersistentPreRunE: nodeInit,
	}
	nodeCmd.PersistentFlags().String("api", "", "status API address of the running node")

	start := &cobra.Command{
		Use:   "start",
		Short: "start the node and block until interrupted",
		RunE:  startRun,
	}
	start.Flags().String("username", "", "node username")
	start.Flags().String("host", "", "advertised IP")
	start.Flags().Int("port", 0, "listen port")
	start.Flags().String("bootstrap", "", "bootstrap peer host:port")
	start.Flags().String("data-root", "", "directory holding Files/ and SyncFiles/")
	start.Flags().String("api", "", "status API bind address")

	status := &cobra.Command{
		Use:   "status",
		Short: "summary of the running node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiGet(cmd, "/status")
		},
	}

	peers := &cobra.Command{
		Use:   "peers",
		Short: "list peers in the roster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiGet(cmd, "/peers")
		},
	}

	nodeCmd.AddCommand(start, status, peers)
	root.AddCommand(nodeCmd)
}
