package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/config"
	"github.com/HendryAvila/wayfinder/internal/engine"
	wfserver "github.com/HendryAvila/wayfinder/internal/server"
)

var (
	snapshotOut string
	forceInit   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest signal records and flush the learning they queue",
	Long: `Reads signal records from a file (or stdin with "-") and feeds them to the
engine. The file holds either a JSON array of records or one JSON record
after another. Duplicate event ids are skipped. Learning is flushed and
persisted before the command returns.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print a JSON snapshot of the graph",
	Args:  cobra.NoArgs,
	RunE:  runSnapshot,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print engine statistics as JSON",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one link-strength decay cycle over stale edges",
	Args:  cobra.NoArgs,
	RunE:  runDecay,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to --config",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}
	records, err := decodeRecords(r)
	if err != nil {
		return err
	}

	app, cleanup, err := wfserver.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var accepted, skipped int
	var ingestErr error
	for i, rec := range records {
		rc, err := app.Engine.Ingest(ctx, rec)
		if errors.Is(err, engine.ErrDuplicateEvent) {
			skipped++
			continue
		}
		if err != nil {
			// Records before the bad one are still flushed.
			ingestErr = fmt.Errorf("record %d: %w", i, err)
			break
		}
		accepted++
		logger.Debug("record ingested", zap.String("event", rc.EventID), zap.Int("formed", len(rc.Formed)))
	}

	ups, err := app.Engine.Flush(ctx)
	if err != nil {
		return errors.Join(ingestErr, fmt.Errorf("flush: %w", err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d records (%d duplicates skipped), applied %d weight updates\n",
		accepted, skipped, len(ups))
	return ingestErr
}

// decodeRecords accepts a JSON array or a stream of JSON objects.
func decodeRecords(r io.Reader) ([]engine.SignalRecord, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	dec := json.NewDecoder(br)
	if first == '[' {
		var recs []engine.SignalRecord
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return recs, nil
	}
	var recs []engine.SignalRecord
	for {
		var rec engine.SignalRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	app, cleanup, err := wfserver.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	w := cmd.OutOrStdout()
	if snapshotOut != "" {
		f, err := os.Create(snapshotOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", snapshotOut, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(app.Graph.Snapshot())
}

func runStats(cmd *cobra.Command, _ []string) error {
	app, cleanup, err := wfserver.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	app.Engine.RefreshBaselines()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(app.Engine.Stats())
}

func runDecay(cmd *cobra.Command, _ []string) error {
	app, cleanup, err := wfserver.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	changes, err := app.Engine.Decay(cmd.Context())
	if err != nil {
		return fmt.Errorf("decay: %w", err)
	}
	for _, c := range changes {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.4f → %.4f\n", c.EdgeID, c.Before, c.After)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decayed %d edges\n", len(changes))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
	return nil
}
