package quality

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"henkan/internal/metrics"
	"henkan/internal/session"
	"henkan/internal/store"
)

// DefaultMaxCasesPerSource caps how many cases of one source are scored.
const DefaultMaxCasesPerSource = 500

// ErrNoOutput is recorded when the session produced neither preedit nor
// result for a case.
var ErrNoOutput = errors.New("session produced no output")

// Recorder persists a finished run.
type Recorder interface {
	RecordRun(run *store.QualityRun, results []store.QualityResult) error
}

// Options configures a Runner.
type Options struct {
	Client            session.Client
	MaxCasesPerSource int
	Label             string
	Recorder          Recorder
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Runner scores session conversions case by case.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// SourceMean is the mean score of one source.
type SourceMean struct {
	Source string
	Cases  int
	Mean   float64
}

// Report summarizes a run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Results   []store.QualityResult
	Invalid   int
	Failed    int
	Means     []SourceMean
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.MaxCasesPerSource <= 0 {
		opts.MaxCasesPerSource = DefaultMaxCasesPerSource
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, logger: opts.Logger.With("component", "quality")}
}

// Run evaluates cases in order. Invalid and failed cases are logged and
// skipped; only scored cases count toward the per-source cap and mean.
func (r *Runner) Run(ctx context.Context, cases []Case) (*Report, error) {
	if err := r.opts.Client.EnsureConnection(); err != nil {
		return nil, fmt.Errorf("ensure connection: %w", err)
	}

	report := &Report{StartedAt: r.opts.Now()}
	scores := make(map[string][]float64)

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(scores[c.Source]) >= r.opts.MaxCasesPerSource {
			continue
		}

		if err := CheckReading(c.Reading); err != nil {
			r.logger.Warn("invalid case", "source", c.Source, "reading", c.Reading, "error", err)
			r.opts.Metrics.QualityCase(c.Source, metrics.QualityInvalid)
			report.Invalid++
			continue
		}
		keys, err := KeySequence(c.Reading)
		if err != nil {
			r.logger.Warn("invalid case", "source", c.Source, "reading", c.Reading, "error", err)
			r.opts.Metrics.QualityCase(c.Source, metrics.QualityInvalid)
			report.Invalid++
			continue
		}

		result := store.QualityResult{Source: c.Source, Input: c.Reading, Expected: c.Expected}
		output, err := r.convert(keys)
		if err != nil {
			r.logger.Warn("case failed", "source", c.Source, "reading", c.Reading, "error", err)
			r.opts.Metrics.QualityCase(c.Source, metrics.QualityFailed)
			result.Error = err.Error()
			report.Results = append(report.Results, result)
			report.Failed++
			continue
		}

		result.Output = Normalize(output)
		result.Score = BLEU([]string{Normalize(c.Expected)}, result.Output)
		r.logger.Debug("case scored",
			"source", c.Source,
			"reading", c.Reading,
			"output", result.Output,
			"expected", c.Expected,
			"score", result.Score,
		)
		r.opts.Metrics.QualityCase(c.Source, metrics.QualityScored)
		scores[c.Source] = append(scores[c.Source], result.Score)
		report.Results = append(report.Results, result)
	}

	report.Means = means(scores)
	for _, m := range report.Means {
		r.opts.Metrics.QualityMean(m.Source, m.Mean)
	}
	report.Duration = r.opts.Now().Sub(report.StartedAt)

	if r.opts.Recorder != nil {
		run := &store.QualityRun{
			Label:     r.opts.Label,
			StartedAt: report.StartedAt,
			// FinishedAt is derived so it never precedes StartedAt.
			FinishedAt: report.StartedAt.Add(report.Duration),
		}
		if err := r.opts.Recorder.RecordRun(run, report.Results); err != nil {
			return report, fmt.Errorf("record run: %w", err)
		}
		report.RunID = run.ID
	}
	return report, nil
}

// convert types one case and returns the converted text. The session is
// reverted afterwards so it does not learn from the case.
func (r *Runner) convert(keys []session.KeyEvent) (text string, err error) {
	client := r.opts.Client
	defer func() {
		if _, rerr := client.SendCommand(session.Revert()); rerr != nil && err == nil {
			err = fmt.Errorf("revert: %w", rerr)
		}
	}()

	if _, err := client.SendKey(session.Special(session.KeyOn)); err != nil {
		return "", fmt.Errorf("send ON: %w", err)
	}
	var out *session.Output
	for _, k := range keys {
		out, err = client.SendKey(k)
		if err != nil {
			return "", fmt.Errorf("send %s: %w", k, err)
		}
	}

	switch {
	case out.HasPreedit() && out.Preedit.Text() != "":
		return out.Preedit.Text(), nil
	case out.HasResult() && out.Result.Value != "":
		return out.Result.Value, nil
	default:
		return "", ErrNoOutput
	}
}

func means(scores map[string][]float64) []SourceMean {
	out := make([]SourceMean, 0, len(scores))
	for source, s := range scores {
		if len(s) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range s {
			sum += v
		}
		out = append(out, SourceMean{Source: source, Cases: len(s), Mean: sum / float64(len(s))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// WriteMeans prints one "source : mean" line per source.
func (rep *Report) WriteMeans(w io.Writer) error {
	for _, m := range rep.Means {
		if _, err := fmt.Fprintf(w, "%s : %g\n", m.Source, m.Mean); err != nil {
			return err
		}
	}
	return nil
}
