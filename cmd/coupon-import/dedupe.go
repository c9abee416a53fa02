package main

import (
	"context"
	"log/slog"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shop-checkout/internal/domain/coupon"
)

const progressEvery = 1_000_000

// findRepeatedCodes streams every file concurrently and returns the codes
// that may occur more than once across all files. Codes are screened with a
// bloom filter, so only possible repeats are held in memory; false positives
// are harmless because pass 2 checks them exactly.
func findRepeatedCodes(ctx context.Context, files []string, expected uint, fpr float64) (map[string]struct{}, error) {
	filter := bloom.NewWithEstimates(expected, fpr)
	repeated := make(map[string]struct{})
	codes := make(chan string, 1024)

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var count uint64
			err := streamFile(gctx, path, func(_ int, record []string) error {
				code := coupon.NormalizeCode(record[colCode])
				if code == "" {
					return nil
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
				select {
				case codes <- code:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
			if err != nil {
				return errors.Wrapf(err, "screen file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			return nil
		})
	}

	// The filter is not safe for concurrent use; a single collector owns it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for code := range codes {
			if filter.TestAndAddString(code) {
				repeated[code] = struct{}{}
			}
		}
	}()

	err := g.Wait()
	close(codes)
	<-done
	if err != nil {
		return nil, err
	}
	return repeated, nil
}

// dedupe keeps the first occurrence of each code. Only codes listed in
// candidates are tracked.
type dedupe struct {
	candidates map[string]struct{}
	seen       map[string]struct{}
}

func newDedupe(candidates map[string]struct{}) *dedupe {
	return &dedupe{candidates: candidates, seen: make(map[string]struct{}, len(candidates))}
}

// first reports whether code is seen for the first time.
func (d *dedupe) first(code string) bool {
	if _, ok := d.candidates[code]; !ok {
		return true
	}
	if _, ok := d.seen[code]; ok {
		return false
	}
	d.seen[code] = struct{}{}
	return true
}
