package eval

import (
	"context"
	"log/slog"
	"time"

	"mongoagent/internal/dataset"
	"mongoagent/internal/domain"
	"mongoagent/internal/report"
)

// QueryFunc produces the actual result for one case input. In production it
// is the agent pipeline; tests substitute canned results.
type QueryFunc func(ctx context.Context, text string, asOf time.Time) (*domain.QueryResult, error)

// Runner scores a dataset case by case. A case whose query fails to run is
// recorded as failed, not scored; a malformed expectation aborts the whole
// run since every report after it would be meaningless.
type Runner struct {
	scorer domain.Scorer
	query  QueryFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner returns a Runner. Both scorer and query must not be nil.
func NewRunner(scorer domain.Scorer, query QueryFunc, logger *slog.Logger) *Runner {
	if scorer == nil {
		panic("eval: scorer must not be nil")
	}
	if query == nil {
		panic("eval: query func must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{scorer: scorer, query: query, logger: logger, now: time.Now}
}

// Run evaluates every case sequentially and returns the assembled report run.
func (r *Runner) Run(ctx context.Context, cases []dataset.Case, datasetName, model string) (report.Run, error) {
	run := report.Run{
		StartedAt: r.now(),
		Dataset:   datasetName,
		Scorer:    r.scorer.Name(),
		Model:     model,
	}

	for _, c := range cases {
		score := report.CaseScore{Name: c.Name, Difficulty: c.Difficulty}

		asOf, err := parseAsOf(c.Input.AsOfDate)
		if err != nil {
			score.Error = err.Error()
			run.Cases = append(run.Cases, score)
			continue
		}

		result, err := r.query(ctx, c.Input.Text, asOf)
		if err != nil {
			r.logger.Warn("case failed to run", "case", c.Name, "error", err)
			score.Error = err.Error()
			run.Cases = append(run.Cases, score)
			continue
		}

		value, err := r.scorer.Score(c.Expected, result)
		if err != nil {
			// Scorer errors mean the fixture itself is broken.
			run.FinishedAt = r.now()
			return run, err
		}

		score.Completed = true
		score.Score = value
		score.FinalAnswer = result.FinalAnswer
		r.logger.Info("case scored", "case", c.Name, "score", value)
		run.Cases = append(run.Cases, score)
	}

	run.FinishedAt = r.now()
	return run, nil
}

func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
