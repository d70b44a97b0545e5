package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/bootstrap"
	"github.com/jmerrifield20/docchain/internal/config"
	"github.com/jmerrifield20/docchain/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	cfgFile   string
	serverURL string
	token     string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "docchain ledger administration CLI",
		Long: `ledgerctl manages a docchain ledger.

Commands that read or write records talk to a running ledgerd when --server
(or DOCCHAIN_SERVER) is set, and open the configured store directly
otherwise. Key generation, reset and migrations always run locally.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.serverURL == "" {
				c.serverURL = os.Getenv("DOCCHAIN_SERVER")
			}
			if c.token == "" {
				c.token = os.Getenv("DOCCHAIN_TOKEN")
			}
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default configs/ledgerd.yaml)")
	root.PersistentFlags().StringVar(&c.serverURL, "server", "", "ledgerd base URL, e.g. http://localhost:8080")
	root.PersistentFlags().StringVar(&c.token, "token", "", "bearer token for --server")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		c.keygenCmd(),
		c.genesisCmd(),
		c.appendCmd(),
		c.listCmd(),
		c.getCmd(),
		c.verifyCmd(),
		c.auditCmd(),
		c.resetCmd(),
		c.tokenCmd(),
		c.migrateCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s (docchain)\n", version)
		},
	}
}

func (c *cli) remote() bool { return c.serverURL != "" }

func (c *cli) client() (*client.Client, error) {
	var opts []client.Option
	if c.token != "" {
		opts = append(opts, client.WithBearerToken(c.token))
	}
	return client.New(c.serverURL, opts...)
}

func (c *cli) config() (*config.Config, error) {
	return config.Load(c.cfgFile)
}

func (c *cli) logger(cfg *config.Config) *zap.Logger {
	if !c.verbose {
		return zap.NewNop()
	}
	l, err := bootstrap.NewLogger(cfg.Log.Development)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// local builds the full application from configuration for commands that
// operate on the store directly.
func (c *cli) local(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, c.logger(cfg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
