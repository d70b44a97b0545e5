package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/docchain/internal/bootstrap"
	"github.com/jmerrifield20/docchain/internal/identity"
	"github.com/jmerrifield20/docchain/internal/ledger"
	"github.com/jmerrifield20/docchain/pkg/client"
)

// errCompromised makes the process exit non-zero after the report is printed.
var errCompromised = errors.New("ledger failed verification")

// ── verify ───────────────────────────────────────────────────────────────────

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the chain and its checkpoint",
		Long: `verify runs the full integrity check: contiguous sequences, per-record
hashes, predecessor links, duplicate data and the encrypted checkpoint.
It exits non-zero when the chain does not verify.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.check(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Intact {
				return fmt.Errorf("%w: %s", errCompromised, report.Kind)
			}
			return nil
		},
	}
}

func (c *cli) check(ctx context.Context) (*client.Report, error) {
	if c.remote() {
		cl, err := c.client()
		if err != nil {
			return nil, err
		}
		return cl.Integrity(ctx)
	}
	app, err := c.local(ctx)
	if err != nil {
		return nil, err
	}
	defer app.Close()
	r, err := app.Ledger.Check(ctx)
	if err != nil {
		return nil, err
	}
	return &client.Report{
		Intact:     r.Intact,
		Message:    r.Reason,
		Kind:       string(r.Kind),
		Records:    r.Records,
		Checkpoint: r.Checkpoint,
	}, nil
}

// ── audit ────────────────────────────────────────────────────────────────────

func (c *cli) auditCmd() *cobra.Command {
	var trustedKey string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Re-check an exported chain and every record signature offline",
		Long: `audit exports every record (from --server, or the local store) and
verifies it without trusting the source: hashes, links, duplicates, sequence
continuity and each record's Ed25519 signature against its verify key.

With --trusted-key, records signed by any other key are reported too. The
encrypted checkpoint is not consulted; use verify for that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := c.export(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			failed := false
			if err := ledger.VerifyRecords(recs); err != nil {
				failed = true
				fmt.Fprintf(out, "chain:      FAIL %v\n", err)
			} else {
				fmt.Fprintf(out, "chain:      ok (%d records)\n", len(recs))
			}

			faults := ledger.AuditSignatures(recs, strings.ToLower(trustedKey))
			if len(faults) == 0 {
				fmt.Fprintln(out, "signatures: ok")
			} else {
				failed = true
				fmt.Fprintf(out, "signatures: FAIL (%d)\n", len(faults))
				for _, f := range faults {
					fmt.Fprintf(out, "  seq %d key %s: %s\n", f.Sequence, f.VerifyKey, f.Reason)
				}
			}
			if failed {
				return errCompromised
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&trustedKey, "trusted-key", "", "hex Ed25519 public key every record must be signed with")
	return cmd
}

func (c *cli) export(ctx context.Context) ([]*ledger.Record, error) {
	if c.remote() {
		cl, err := c.client()
		if err != nil {
			return nil, err
		}
		recs, err := cl.Export(ctx)
		if err != nil {
			return nil, err
		}
		return toLedger(recs)
	}
	app, err := c.local(ctx)
	if err != nil {
		return nil, err
	}
	defer app.Close()
	return app.Ledger.Export(ctx)
}

// ── reset ────────────────────────────────────────────────────────────────────

func (c *cli) resetCmd() *cobra.Command {
	var (
		yes  bool
		file string
	)
	cmd := &cobra.Command{
		Use:   "reset [genesis-json]",
		Short: "Discard every record and start a new chain",
		Long: `reset deletes all records from the configured store, clears the
checkpoint and writes a new genesis record. It runs against the local store
only and cannot be undone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset destroys the ledger; re-run with --yes to confirm")
			}
			doc, err := readDocument(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := c.local(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			rec, err := app.Ledger.Reset(ctx, doc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the genesis document from a file (- for stdin)")
	return cmd
}

// ── token ────────────────────────────────────────────────────────────────────

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if !cfg.AuthEnabled() {
				return errors.New("auth.jwt_secret is not set; the server accepts unauthenticated requests")
			}
			for _, s := range scopes {
				switch s {
				case identity.ScopeRead, identity.ScopeWrite, identity.ScopeAdmin:
				default:
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tokens, err := identity.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}
			tok, err := tokens.Issue(subject, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ledgerctl", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{identity.ScopeRead}, "granted scopes (ledger:read, ledger:write, ledger:admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

// ── migrate ──────────────────────────────────────────────────────────────────

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := bootstrap.OpenPostgres(ctx, cfg.Store.PostgresURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := bootstrap.Migrate(ctx, pool, c.logger(cfg))
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
