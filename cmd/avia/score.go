package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/avia/internal/domain"
)

var scoreWorkers int

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Score claim records from a JSON or JSONL file",
	Long: "Score reads claim records from a JSON array, a single JSON object or\n" +
		"newline-delimited JSON and writes one result per line to stdout.\n" +
		"Use - to read from stdin.",
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().IntVarP(&scoreWorkers, "workers", "w", 4, "parallel scoring workers")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(os.Stderr)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	records, err := readRecords(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	engine := newScoringEngine(cfg.Scoring, logger)
	results, err := engine.ScoreBatch(cmd.Context(), records, scoreWorkers)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(cmd.OutOrStdout())
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readRecords decodes a stream of JSON values. Arrays contribute each
// element; objects contribute themselves. This accepts a JSON array, a
// single object and JSONL alike.
func readRecords(r io.Reader) ([]domain.ClaimRecord, error) {
	dec := json.NewDecoder(r)

	var records []domain.ClaimRecord
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("value %d: %w", n, err)
		}

		var batch []domain.ClaimRecord
		if err := json.Unmarshal(raw, &batch); err == nil {
			records = append(records, batch...)
			continue
		}
		var one domain.ClaimRecord
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("value %d: expected an object or an array of objects", n)
		}
		records = append(records, one)
	}

	if len(records) == 0 {
		return nil, errors.New("no claim records found")
	}
	return records, nil
}
