package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmerrifield20/docchain/internal/ledger"
	"github.com/jmerrifield20/docchain/pkg/client"
)

// ── genesis / append ─────────────────────────────────────────────────────────

func (c *cli) genesisCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "genesis [json]",
		Short: "Create the first record of an empty ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if c.remote() {
				cl, err := c.client()
				if err != nil {
					return err
				}
				rec, err := cl.Genesis(ctx, doc)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			}
			app, err := c.local(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			rec, err := app.Ledger.Genesis(ctx, doc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the document from a file (- for stdin)")
	return cmd
}

func (c *cli) appendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "append [json]",
		Short: "Append a document to the ledger",
		Long: `append records a JSON document as the next ledger entry.

  ledgerctl append '{"dataType":"invoice","identifier":"INV-7","total":"12.50"}'
  ledgerctl append -f invoice.json
  cat invoice.json | ledgerctl append -f -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if c.remote() {
				cl, err := c.client()
				if err != nil {
					return err
				}
				rec, err := cl.Append(ctx, doc)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			}
			app, err := c.local(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			rec, err := app.Ledger.Append(ctx, doc)
			if rec != nil {
				// CheckpointStale still returns the committed record.
				_ = printJSON(cmd.OutOrStdout(), rec)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the document from a file (- for stdin)")
	return cmd
}

// readDocument returns the JSON document given either inline or via --file.
func readDocument(stdin io.Reader, args []string, file string) (json.RawMessage, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case len(args) == 1 && file != "":
		return nil, errors.New("give the document inline or with --file, not both")
	case len(args) == 1:
		b = []byte(args[0])
	case file == "-":
		b, err = io.ReadAll(stdin)
	case file != "":
		b, err = os.ReadFile(file)
	default:
		return nil, errors.New("no document given")
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !json.Valid(b) {
		return nil, errors.New("document is not valid JSON")
	}
	return b, nil
}

// ── list / get ───────────────────────────────────────────────────────────────

func (c *cli) listCmd() *cobra.Command {
	var (
		opts   client.ListOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records in sequence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := c.list(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			printTable(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "only records whose data.dataType matches")
	cmd.Flags().StringVar(&opts.Identifier, "identifier", "", "only records whose data.identifier matches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")
	cmd.MarkFlagsMutuallyExclusive("type", "identifier")
	return cmd
}

func (c *cli) list(ctx context.Context, opts client.ListOptions) ([]client.Record, error) {
	if c.remote() {
		cl, err := c.client()
		if err != nil {
			return nil, err
		}
		return cl.List(ctx, opts)
	}
	app, err := c.local(ctx)
	if err != nil {
		return nil, err
	}
	defer app.Close()

	var recs []*ledger.Record
	switch {
	case opts.Type != "":
		recs, err = app.Ledger.ListByType(ctx, opts.Type)
	case opts.Identifier != "":
		recs, err = app.Ledger.ListByIdentifier(ctx, opts.Identifier)
	default:
		recs, err = app.Ledger.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	return fromLedger(recs), nil
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <uuid | sequence | latest>",
		Short: "Print a single record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (c *cli) get(ctx context.Context, ref string) (any, error) {
	seq, seqErr := strconv.ParseInt(ref, 10, 64)
	if ref != "latest" && seqErr != nil {
		if _, err := uuid.Parse(ref); err != nil {
			return nil, fmt.Errorf("%q is not a UUID, a sequence number or \"latest\"", ref)
		}
	}

	if c.remote() {
		cl, err := c.client()
		if err != nil {
			return nil, err
		}
		switch {
		case ref == "latest":
			return cl.Latest(ctx)
		case seqErr == nil:
			return cl.GetBySequence(ctx, seq)
		default:
			return cl.Get(ctx, ref)
		}
	}

	app, err := c.local(ctx)
	if err != nil {
		return nil, err
	}
	defer app.Close()
	switch {
	case ref == "latest":
		return app.Ledger.Latest(ctx)
	case seqErr == nil:
		return app.Ledger.GetBySequence(ctx, seq)
	default:
		return app.Ledger.Get(ctx, uuid.MustParse(ref))
	}
}

func printTable(w io.Writer, recs []client.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tHASH\tTIME\tTYPE\tIDENTIFIER")
	for _, r := range recs {
		var fields struct {
			DataType   string `json:"dataType"`
			Identifier string `json:"identifier"`
		}
		_ = json.Unmarshal(r.Data, &fields)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Sequence, r.ID, r.Hash[:min(12, len(r.Hash))],
			epochTime(r.Timestamp).Format(time.RFC3339), fields.DataType, fields.Identifier,
		)
	}
	tw.Flush() //nolint:errcheck
}

func epochTime(ts float64) time.Time {
	return time.Unix(0, int64(ts*1e9)).UTC()
}

// ── conversions ──────────────────────────────────────────────────────────────

func fromLedger(recs []*ledger.Record) []client.Record {
	out := make([]client.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, client.Record{
			ID:        r.ID.String(),
			Sequence:  r.Sequence,
			Data:      r.Data,
			Hash:      r.Hash,
			Signature: r.Signature,
			VerifyKey: r.VerifyKey,
			PrevHash:  r.PrevHash,
			Timestamp: r.Timestamp,
		})
	}
	return out
}

func toLedger(recs []client.Record) ([]*ledger.Record, error) {
	out := make([]*ledger.Record, 0, len(recs))
	for _, r := range recs {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid id %q: %w", r.Sequence, r.ID, err)
		}
		out = append(out, &ledger.Record{
			ID:        id,
			Sequence:  r.Sequence,
			Data:      r.Data,
			Hash:      r.Hash,
			Signature: r.Signature,
			VerifyKey: r.VerifyKey,
			PrevHash:  r.PrevHash,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}
