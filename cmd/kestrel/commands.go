package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scorer"
)

var detectCmd = &cli.Command{
	Name:      "detect",
	Usage:     "classify accounts from a JSON file (object or array, - for stdin)",
	ArgsUsage: "<accounts.json>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "indent JSON output",
		},
	},
	Action: func(cctx *cli.Context) error {
		recs, decodeErrs, err := readRecords(cctx.Args().First())
		if err != nil {
			return err
		}

		s, err := newSetup(cctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := signalContext(cctx.Context)
		defer cancel()

		entries := detectDecoded(ctx, s.detector, recs, decodeErrs)
		out := make([]batchEntry, len(entries))
		for i, e := range entries {
			out[i] = batchEntry{Index: e.Index, Result: e.Result}
			if e.Err != nil {
				out[i].Error = e.Err.Error()
			}
		}
		return writeJSON(os.Stdout, out, cctx.Bool("pretty"))
	},
}

// detectDecoded runs the records that decoded through the detector and places
// decode failures at their own index, so the output lines up with the input.
func detectDecoded(ctx context.Context, d *detector.Detector, recs []*domain.AccountRecord, decodeErrs []error) []domain.BatchResult {
	valid := make([]*domain.AccountRecord, 0, len(recs))
	pos := make([]int, 0, len(recs))
	out := make([]domain.BatchResult, len(recs))
	for i, rec := range recs {
		out[i].Index = i
		if decodeErrs[i] != nil {
			out[i].Err = decodeErrs[i]
			continue
		}
		valid = append(valid, rec)
		pos = append(pos, i)
	}

	for k, r := range d.DetectBatch(ctx, valid) {
		r.Index = pos[k]
		out[pos[k]] = r
	}
	return out
}

// batchEntry is the output form of domain.BatchResult.
type batchEntry struct {
	Index  int                     `json:"index"`
	Result *domain.DetectionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

var explainCmd = &cli.Command{
	Name:      "explain",
	Usage:     "print a human-readable explanation for each account",
	ArgsUsage: "<accounts.json>",
	Action: func(cctx *cli.Context) error {
		recs, decodeErrs, err := readRecords(cctx.Args().First())
		if err != nil {
			return err
		}

		s, err := newSetup(cctx)
		if err != nil {
			return err
		}
		defer s.Close()

		for i, rec := range recs {
			if decodeErrs[i] != nil {
				fmt.Fprintf(os.Stdout, "Record %d: %v\n\n", i, decodeErrs[i])
				continue
			}
			text, _, err := s.detector.ExplainRecord(cctx.Context, rec)
			if err != nil {
				fmt.Fprintf(os.Stdout, "Record %d: %v\n\n", i, err)
				continue
			}
			fmt.Fprintln(os.Stdout, text)
		}
		return nil
	},
}

var trainCmd = &cli.Command{
	Name:      "train",
	Usage:     "train a statistical model from labelled accounts",
	ArgsUsage: "<labeled.json>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "algorithm",
			Usage: "linear or forest",
			Value: string(scorer.AlgorithmForest),
		},
		&cli.IntFlag{
			Name:  "trees",
			Usage: "number of trees (forest)",
		},
		&cli.IntFlag{
			Name:  "max-depth",
			Usage: "maximum tree depth (forest)",
		},
		&cli.IntFlag{
			Name:  "iterations",
			Usage: "maximum optimiser iterations (linear)",
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "random seed",
			Value: scorer.DefaultTrainOptions().Seed,
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "artifact name in the model store (defaults to model.name)",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "also write the artifact to this file",
		},
	},
	Action: func(cctx *cli.Context) error {
		samples, err := readLabeled(cctx.Args().First())
		if err != nil {
			return err
		}

		s, err := newSetup(cctx)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := scorer.DefaultTrainOptions()
		opts.Algorithm = scorer.Algorithm(cctx.String("algorithm"))
		opts.Seed = cctx.Uint64("seed")
		if n := cctx.Int("trees"); n > 0 {
			opts.Trees = n
		}
		if n := cctx.Int("max-depth"); n > 0 {
			opts.MaxDepth = n
		}
		if n := cctx.Int("iterations"); n > 0 {
			opts.Iterations = n
		}

		model, err := s.detector.Train(cctx.Context, samples, opts)
		if err != nil {
			return err
		}

		if path := cctx.String("output"); path != "" {
			data, err := scorer.Save(model)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write artifact: %w", err)
			}
		}

		if s.store != nil {
			name := cctx.String("name")
			if name == "" {
				name = s.cfg.Model.Name
			}
			if _, err := s.detector.SaveModel(cctx.Context, name); err != nil {
				return err
			}
		} else if cctx.String("output") == "" {
			slog.Warn("no model store configured and no --output given, model is discarded")
		}

		fmt.Fprintf(os.Stdout, "Model %s (%s, %d samples)\n\nFeature importance:\n",
			model.ID, model.Algorithm, model.TrainingSamples)
		for i, imp := range model.FeatureImportance() {
			fmt.Fprintf(os.Stdout, "  %2d. %-28s %.4f\n", i+1, imp.Feature, imp.Value)
		}
		return nil
	},
}

var modelsCmd = &cli.Command{
	Name:  "models",
	Usage: "inspect the model store",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list the latest version of every stored model",
			Action: func(cctx *cli.Context) error {
				s, err := newSetup(cctx)
				if err != nil {
					return err
				}
				defer s.Close()

				if s.store == nil {
					return errors.New("no model store configured (set model.store)")
				}

				infos, err := s.store.List(cctx.Context)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tVERSION\tSIZE\tCREATED")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.Name, info.Version, info.Size, info.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			},
		},
		{
			Name:      "inspect",
			Usage:     "print feature importance of a model artifact file",
			ArgsUsage: "<artifact.json>",
			Action: func(cctx *cli.Context) error {
				data, err := readInput(cctx.Args().First())
				if err != nil {
					return err
				}
				model, err := scorer.Load(data)
				if err != nil {
					return err
				}

				fmt.Fprintf(os.Stdout, "Model %s (%s, %d samples, created %s)\n\n",
					model.ID, model.Algorithm, model.TrainingSamples, model.CreatedAt.Format(time.RFC3339))
				for i, imp := range model.FeatureImportance() {
					fmt.Fprintf(os.Stdout, "  %2d. %-28s %.4f\n", i+1, imp.Feature, imp.Value)
				}
				return nil
			},
		},
	},
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("input file required (use - for stdin)")
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}

// readRecords accepts a single account object or an array of them. Array
// elements decode independently: an element that does not decode leaves a nil
// record and a *domain.ValidationError at its index in the second slice. Only
// input that is not a JSON object or array fails the whole read.
func readRecords(path string) ([]*domain.AccountRecord, []error, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		data = append(append([]byte{'['}, data...), ']')
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	recs := make([]*domain.AccountRecord, len(raw))
	errs := make([]error, len(raw))
	for i, msg := range raw {
		var rec domain.AccountRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			errs[i] = &domain.ValidationError{Field: fmt.Sprintf("accounts[%d]", i), Reason: "malformed account record", Err: err}
			continue
		}
		recs[i] = &rec
	}
	return recs, errs, nil
}

func readLabeled(path string) ([]domain.LabeledAccount, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	var samples []domain.LabeledAccount
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to decode labelled accounts: %w", err)
	}
	return samples, nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
