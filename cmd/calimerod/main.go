// Command calimerod is the Calimero node daemon and its management CLI:
// context lifecycle, application install, identity and alias management,
// application calls, and the long-running `run` mode hosting the sync
// scheduler and gossip mesh.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/chainclient/localverifier"
	"github.com/calimero-network/core/internal/node"
	"github.com/calimero-network/core/pkg/config"
)

const (
	exitOK       = 0
	exitUser     = 1
	exitProtocol = 2
	exitIO       = 3
)

var (
	flagConfig string
	flagHome   string
)

func main() {
	root := &cobra.Command{
		Use:           "calimerod",
		Short:         "Calimero private shared-state node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagHome, "home", defaultHome(), "node home directory")

	root.AddCommand(runCmd())
	root.AddCommand(contextCmd())
	root.AddCommand(applicationCmd())
	root.AddCommand(identityCmd())
	root.AddCommand(callCmd())
	root.AddCommand(proxyCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "calimerod: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto the documented process exit
// codes: 1 user error, 2 protocol error, 3 I/O error.
func exitCode(err error) int {
	kind, ok := calerr.As(err)
	if !ok {
		return exitUser
	}
	switch kind {
	case calerr.KindInvalidArgument, calerr.KindNotFound, calerr.KindPermissionDenied:
		return exitUser
	case calerr.KindProtocol, calerr.KindCrypto, calerr.KindExternal:
		return exitProtocol
	default:
		return exitIO
	}
}

func defaultHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".calimero")
	}
	return ".calimero"
}

// loadConfig reads the node config and anchors every relative storage
// path under the home directory, so two nodes with distinct --home flags
// never share a store.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "load config")
	}
	if cfg.Node.Home == "" {
		cfg.Node.Home = flagHome
	}
	if err := os.MkdirAll(cfg.Node.Home, 0o700); err != nil {
		return nil, calerr.Wrap(calerr.KindStorage, err, "create node home")
	}
	if !filepath.IsAbs(cfg.Storage.DBPath) {
		cfg.Storage.DBPath = filepath.Join(cfg.Node.Home, cfg.Storage.DBPath)
	}
	if !filepath.IsAbs(cfg.Storage.BlobDir) {
		cfg.Storage.BlobDir = filepath.Join(cfg.Node.Home, cfg.Storage.BlobDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, calerr.Wrap(calerr.KindInvalidArgument, err, "validate config")
	}

	level, err := logrus.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		return nil, calerr.Wrapf(calerr.KindInvalidArgument, err, "log level %q", cfg.Node.LogLevel)
	}
	logrus.SetLevel(level)
	return cfg, nil
}

// openNode wires a node against the home directory's local verifier
// store. Every command except `run` opens the node, does one operation,
// and closes it again.
func openNode() (*node.Node, *localverifier.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	lv, err := localverifier.Open(filepath.Join(cfg.Node.Home, "verifier.json"))
	if err != nil {
		return nil, nil, err
	}
	lv.EnsureContract(localverifier.DefaultAddress)
	n, err := node.New(cfg, lv.Transport())
	if err != nil {
		return nil, nil, err
	}
	return n, lv, nil
}
