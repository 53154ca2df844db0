package guard

import (
	"context"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/audit"
	"github.com/rowguard/rowguard/internal/log"
)

const (
	defaultChunkSize   = 100
	defaultConcurrency = 4
)

type filterOptions struct {
	chunkSize   int
	concurrency int
}

// FilterOption tunes row filtering.
type FilterOption func(*filterOptions)

// WithChunkSize sets how many rows one worker evaluates at a time.
func WithChunkSize(n int) FilterOption {
	return func(o *filterOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithConcurrency bounds the worker pool evaluating chunks.
func WithConcurrency(n int) FilterOption {
	return func(o *filterOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// FilterRows keeps only the rows the caller may read, preserving their
// original relative order. Rows are partitioned into fixed-size chunks
// evaluated by a bounded worker pool, so CPU and memory burst stay capped
// regardless of input size; each chunk's verdicts are written back to the
// chunk's own positions, so interleaved completion can never reorder output.
func (g *Guard) FilterRows(ctx context.Context, table string, rows []map[string]any, opts ...FilterOption) ([]map[string]any, error) {
	if len(rows) == 0 {
		return rows, nil
	}

	options := filterOptions{chunkSize: defaultChunkSize, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(&options)
	}

	rc, _ := rowguard.FromContext(ctx)
	ec := rowguard.NewEvalContext(rc, table, rowguard.OpRead)

	start := time.Now()

	chunks := lo.Chunk(rows, options.chunkSize)
	verdicts := make([][]bool, len(chunks))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(options.concurrency)

	for i, chunk := range chunks {
		eg.Go(func() error {
			keep := make([]bool, len(chunk))

			for j, row := range chunk {
				decision, err := g.decide(egCtx, table, rowguard.OpRead, ec.WithRow(row))
				if err != nil {
					return err
				}

				keep[j] = decision.Allowed
			}

			verdicts[i] = keep

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	kept := make([]map[string]any, 0, len(rows))

	for i, chunk := range chunks {
		for j, row := range chunk {
			if verdicts[i][j] {
				kept = append(kept, row)
			}
		}
	}

	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "guard: rows filtered",
			log.String("table", table),
			log.Int("input", len(rows)),
			log.Int("kept", len(kept)),
			log.Duration("elapsed", time.Since(start)),
		)
	}

	g.auditor.LogDecision(ctx, rowguard.OpRead, table, audit.DecisionFilter,
		audit.WithReason("row filtering"),
		audit.WithDuration(time.Since(start)),
	)

	return kept, nil
}

// FilterRowsCurrent is FilterRows that insists on a bound RLS context.
func (g *Guard) FilterRowsCurrent(ctx context.Context, table string, rows []map[string]any, opts ...FilterOption) ([]map[string]any, error) {
	if _, ok := rowguard.FromContext(ctx); !ok {
		return nil, rowguard.ErrContextMissing
	}

	return g.FilterRows(ctx, table, rows, opts...)
}
