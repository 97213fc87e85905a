package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/calimero-network/core/internal/calerr"
	"github.com/calimero-network/core/internal/chainclient/localverifier"
	"github.com/calimero-network/core/internal/node"
	"github.com/calimero-network/core/pkg/ids"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the node daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			if err := n.Start(cmd.Context()); err != nil {
				return err
			}
			logrus.WithField("identity", n.Identity().String()).Info("calimerod: node started")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-cmd.Context().Done():
			case s := <-sig:
				logrus.WithField("signal", s.String()).Info("calimerod: shutting down")
			}
			return nil
		},
	}
}

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "context", Short: "manage contexts"}

	var appID, networkID, contractID string
	create := &cobra.Command{
		Use:   "create",
		Short: "create a context bound to an installed application",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			application, err := ids.ParseApplicationId(appID)
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "application id")
			}
			c, err := n.CreateContext(cmd.Context(), application, networkID, contractID)
			if err != nil {
				return err
			}
			fmt.Println(c.ID.String())
			return nil
		},
	}
	create.Flags().StringVar(&appID, "application", "", "application id (required)")
	create.Flags().StringVar(&networkID, "network", localverifier.DefaultNetworkID, "verifier network id")
	create.Flags().StringVar(&contractID, "contract", localverifier.DefaultAddress.Hex(), "verifier contract id")
	_ = create.MarkFlagRequired("application")

	list := &cobra.Command{
		Use:   "list",
		Short: "list local contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			contexts, err := n.ListContexts()
			if err != nil {
				return err
			}
			for _, c := range contexts {
				fmt.Printf("%s\tapp=%s\troot=%s\n", c.ID.String(), c.ApplicationID.String(), c.RootHash.String())
			}
			return nil
		},
	}

	leave := &cobra.Command{
		Use:   "leave <context>",
		Short: "leave a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			contextID, err := ids.ParseContextId(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "context id")
			}
			return n.LeaveContext(cmd.Context(), contextID)
		},
	}

	invite := &cobra.Command{
		Use:   "invite <context> <identity>",
		Short: "grant an identity membership and print a join token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			contextID, err := ids.ParseContextId(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "context id")
			}
			identity, err := resolveIdentity(n, args[1])
			if err != nil {
				return err
			}
			token, err := n.InviteContext(cmd.Context(), contextID, identity)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	join := &cobra.Command{
		Use:   "join <token>",
		Short: "join a context from an invitation token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			c, err := n.JoinContext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(c.ID.String())
			return nil
		},
	}

	reinstall := &cobra.Command{
		Use:   "reinstall <context> <application>",
		Short: "rebind a context to a different installed application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			contextID, err := ids.ParseContextId(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "context id")
			}
			application, err := ids.ParseApplicationId(args[1])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "application id")
			}
			return n.ReinstallApplication(cmd.Context(), contextID, application)
		},
	}

	cmd.AddCommand(create, list, leave, invite, join, reinstall)
	return cmd
}

func applicationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "application", Aliases: []string{"app"}, Short: "manage installed applications"}

	install := &cobra.Command{
		Use:   "install <path>",
		Short: "install a WASM application bundle from a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindStorage, err, "open bundle")
			}
			defer f.Close()

			app, err := n.InstallApplication(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Println(app.ID.String())
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "list installed applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			apps, err := n.ListApplications()
			if err != nil {
				return err
			}
			for _, a := range apps {
				fmt.Printf("%s\tblob=%s\tsize=%d\n", a.ID.String(), a.BlobID.String(), a.Size)
			}
			return nil
		},
	}

	uninstall := &cobra.Command{
		Use:   "uninstall <application>",
		Short: "remove an installed application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			application, err := ids.ParseApplicationId(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "application id")
			}
			return n.UninstallApplication(application)
		},
	}

	cmd.AddCommand(install, list, uninstall)
	return cmd
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "identity", Short: "manage member identities"}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "mint a fresh identity keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			id, err := n.NewIdentity()
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "list owned identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			identities, err := n.ListIdentities()
			if err != nil {
				return err
			}
			primary := n.Identity()
			for _, id := range identities {
				if id == primary {
					fmt.Printf("%s\t(primary)\n", id.String())
				} else {
					fmt.Println(id.String())
				}
			}
			return nil
		},
	}

	alias := &cobra.Command{Use: "alias", Short: "manage identity aliases"}
	aliasAdd := &cobra.Command{
		Use:   "add <name> <identity>",
		Short: "bind a name to an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			identity, err := ids.ParsePublicKey(args[1])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "identity")
			}
			return n.AliasSet(args[0], identity)
		},
	}
	aliasRm := &cobra.Command{
		Use:   "rm <name>",
		Short: "remove an alias binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()
			return n.AliasRemove(args[0])
		},
	}
	aliasGet := &cobra.Command{
		Use:   "get <name>",
		Short: "resolve an alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			identity, ok, err := n.AliasGet(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return calerr.Newf(calerr.KindNotFound, "alias %q not bound", args[0])
			}
			fmt.Println(identity.String())
			return nil
		},
	}
	aliasList := &cobra.Command{
		Use:   "list",
		Short: "list alias bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			bindings, err := n.AliasList()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(bindings))
			for name := range bindings {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%s\n", name, bindings[name].String())
			}
			return nil
		},
	}
	alias.AddCommand(aliasAdd, aliasRm, aliasGet, aliasList)

	cmd.AddCommand(newCmd, list, alias)
	return cmd
}

func callCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "call <context> <method>",
		Short: "invoke an exported method of a context's application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			contextID, err := ids.ParseContextId(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "context id")
			}
			result, err := n.Invoke(cmd.Context(), contextID, args[1], []byte(input))
			if err != nil {
				return err
			}
			for _, line := range result.Logs {
				fmt.Fprintf(os.Stderr, "log: %s\n", line)
			}
			if result.ReturnTag != 0 {
				fmt.Fprintf(os.Stderr, "error return: %s\n", result.ReturnValue)
				return calerr.New(calerr.KindInvalidArgument, "application returned an error")
			}
			if len(result.ReturnValue) > 0 {
				fmt.Printf("%s\n", result.ReturnValue)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "serialized call input")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "inspect node configuration"}
	show := &cobra.Command{
		Use:   "show",
		Short: "print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "render config")
			}
			fmt.Print(string(out))
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func proxyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proxy", Short: "query proxy contracts"}
	get := &cobra.Command{
		Use:   "get <context>",
		Short: "print a context's proxy contract address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := openNode()
			if err != nil {
				return err
			}
			defer n.Close()

			contextID, err := ids.ParseContextId(args[0])
			if err != nil {
				return calerr.Wrap(calerr.KindInvalidArgument, err, "context id")
			}
			proxy, err := n.ProxyContract(cmd.Context(), contextID)
			if err != nil {
				return err
			}
			fmt.Println(proxy)
			return nil
		},
	}
	cmd.AddCommand(get)
	return cmd
}

// resolveIdentity accepts either an alias name or a base58 public key.
func resolveIdentity(n *node.Node, s string) (ids.PublicKey, error) {
	if identity, ok, err := n.AliasGet(s); err != nil {
		return ids.PublicKey{}, err
	} else if ok {
		return identity, nil
	}
	identity, err := ids.ParsePublicKey(s)
	if err != nil {
		return ids.PublicKey{}, calerr.Wrapf(calerr.KindInvalidArgument, err, "identity %q", s)
	}
	return identity, nil
}
