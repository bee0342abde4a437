package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scorer"
)

var benchmarkCmd = &cli.Command{
	Name:      "benchmark",
	Usage:     "measure detection quality against labelled accounts",
	ArgsUsage: "<labeled.json>",
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:  "train-split",
			Usage: "fraction of samples to train on before evaluating the rest (0 = evaluate all with the current model)",
		},
		&cli.StringFlag{
			Name:  "algorithm",
			Usage: "algorithm used when --train-split is set",
			Value: string(scorer.AlgorithmForest),
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "seed for the train/evaluate split and training",
			Value: scorer.DefaultTrainOptions().Seed,
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "print each account result",
		},
	},
	Action: func(cctx *cli.Context) error {
		samples, err := readLabeled(cctx.Args().First())
		if err != nil {
			return err
		}

		split := cctx.Float64("train-split")
		if split < 0 || split >= 1 {
			return fmt.Errorf("--train-split must be in [0, 1), got %v", split)
		}

		s, err := newSetup(cctx)
		if err != nil {
			return err
		}
		defer s.Close()

		eval := samples
		if split > 0 {
			var train []domain.LabeledAccount
			train, eval = splitSamples(samples, split, cctx.Uint64("seed"))
			opts := scorer.DefaultTrainOptions()
			opts.Algorithm = scorer.Algorithm(cctx.String("algorithm"))
			opts.Seed = cctx.Uint64("seed")
			if _, err := s.detector.Train(cctx.Context, train, opts); err != nil {
				return err
			}
		}

		ctx, cancel := signalContext(cctx.Context)
		defer cancel()

		recs := make([]*domain.AccountRecord, len(eval))
		for i := range eval {
			recs[i] = &eval[i].Account
		}

		start := time.Now()
		entries := s.detector.DetectBatch(ctx, recs)
		duration := time.Since(start)

		m := score(eval, entries)
		if cctx.Bool("verbose") {
			printEntries(os.Stdout, eval, entries)
		}
		printResults(os.Stdout, m, s.detector.Scorer().Mode().String(), duration)
		return nil
	},
}

// splitSamples shuffles each label class with a seeded PCG and puts the first
// fraction of every class into the training set, so a file sorted by label
// still trains on both classes. The input slice is not modified.
func splitSamples(samples []domain.LabeledAccount, fraction float64, seed uint64) (train, eval []domain.LabeledAccount) {
	rng := rand.New(rand.NewPCG(seed, seed))

	byLabel := make(map[int][]domain.LabeledAccount)
	var labels []int
	for _, s := range samples {
		if _, ok := byLabel[s.Label]; !ok {
			labels = append(labels, s.Label)
		}
		byLabel[s.Label] = append(byLabel[s.Label], s)
	}

	for _, label := range labels {
		class := byLabel[label]
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		n := int(float64(len(class)) * fraction)
		train = append(train, class[:n]...)
		eval = append(eval, class[n:]...)
	}
	return train, eval
}

// Metrics is a confusion matrix over one benchmark run.
type Metrics struct {
	TruePositives  int64 // bot detected as bot
	FalsePositives int64 // human detected as bot
	TrueNegatives  int64 // human detected as human
	FalseNegatives int64 // bot detected as human

	TotalProcessed int64
	TotalBots      int64
	TotalHumans    int64
	TotalErrors    int64
}

func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (m *Metrics) Accuracy() float64 {
	return ratio(m.TruePositives+m.TrueNegatives,
		m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// score compares batch results against the labels. Failed entries count as
// errors and stay out of the confusion matrix.
func score(samples []domain.LabeledAccount, entries []domain.BatchResult) *Metrics {
	m := &Metrics{}
	for i, e := range entries {
		m.TotalProcessed++
		if e.Err != nil {
			m.TotalErrors++
			continue
		}

		actual := samples[i].Label == 1
		if actual {
			m.TotalBots++
		} else {
			m.TotalHumans++
		}

		predicted := e.Result.IsBot
		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
	return m
}

func printEntries(w io.Writer, samples []domain.LabeledAccount, entries []domain.BatchResult) {
	for i, e := range entries {
		name := samples[i].Account.Username
		if len(name) > 16 {
			name = name[:16]
		}
		if e.Err != nil {
			fmt.Fprintf(w, "! %-16s | error: %v\n", name, e.Err)
			continue
		}

		status := "+"
		if e.Result.IsBot != (samples[i].Label == 1) {
			status = "x"
		}
		fmt.Fprintf(w, "%s %-16s | label: %d | bot: %-5v (%.2f) | method: %s\n",
			status, name, samples[i].Label, e.Result.IsBot, e.Result.Confidence, e.Result.Method)
	}
}

func printResults(w io.Writer, m *Metrics, mode string, duration time.Duration) {
	fmt.Fprintln(w, "\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                      BENCHMARK RESULTS                        ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════╝")

	fmt.Fprintf(w, "\nDATASET\n")
	fmt.Fprintf(w, "   Scorer Mode:      %s\n", mode)
	fmt.Fprintf(w, "   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(w, "   Bots:             %d\n", m.TotalBots)
	fmt.Fprintf(w, "   Humans:           %d\n", m.TotalHumans)
	fmt.Fprintf(w, "   Errors:           %d\n", m.TotalErrors)

	fmt.Fprintf(w, "\nCONFUSION MATRIX\n")
	fmt.Fprintln(w, "                        Predicted")
	fmt.Fprintln(w, "                     BOT       HUMAN")
	fmt.Fprintln(w, "              ┌──────────┬──────────┐")
	fmt.Fprintf(w, "   Actual  B  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintln(w, "              ├──────────┼──────────┤")
	fmt.Fprintf(w, "           H  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Fprintln(w, "              └──────────┴──────────┘")

	fmt.Fprintf(w, "\nDETECTION METRICS\n")
	fmt.Fprintf(w, "   Precision:  %.4f  (of flagged accounts, how many were bots)\n", m.Precision())
	fmt.Fprintf(w, "   Recall:     %.4f  (of bots, how many were caught)\n", m.Recall())
	fmt.Fprintf(w, "   F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(w, "   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Fprintf(w, "\nPERFORMANCE\n")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 && duration > 0 {
		fmt.Fprintf(w, "   Throughput:       %.2f accounts/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Fprintln(w)
}
