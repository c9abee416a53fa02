package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/shop-checkout/internal/domain/pricing"
	"github.com/xenking/shop-checkout/internal/repository"
)

const (
	defaultExpected = 10_000_000
	bloomFPR        = 0.001
	defaultBatch    = 1000
)

// couponStore receives validated coupons in batches.
type couponStore interface {
	UpsertBatch(ctx context.Context, coupons []pricing.Coupon) error
}

type stats struct {
	imported   int
	duplicates int
	invalid    int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		expected    uint
		batchSize   int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected", defaultExpected, "expected number of codes, sizes the bloom filter")
	flag.IntVar(&batchSize, "batch", defaultBatch, "coupons per upsert batch")
	flag.BoolVar(&dryRun, "dry-run", false, "validate files without writing to the database")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("list coupon files", slog.String("error", err.Error()))
			os.Exit(1)
		}
		files = matches
	}
	if len(files) == 0 {
		slog.Error("no coupon files found", slog.String("data_dir", dataDir))
		os.Exit(1)
	}
	sort.Strings(files)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, expected, batchSize, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, expected uint, batchSize int, dryRun bool) error {
	// Pass 1: find codes that may repeat across or within files.
	slog.Info("pass 1: screening codes", slog.Int("files", len(files)))

	repeated, err := findRepeatedCodes(ctx, files, expected, bloomFPR)
	if err != nil {
		return errors.Wrap(err, "screen codes")
	}

	slog.Info("possible repeats", slog.Int("count", len(repeated)))

	var store couponStore = discardStore{}
	if !dryRun {
		slog.Info("connecting to database")

		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		store = repository.NewCouponRepository(pool)
	}

	// Pass 2: validate and write, first valid occurrence wins.
	slog.Info("pass 2: importing coupons")

	st, err := importFiles(ctx, files, newDedupe(repeated), store, batchSize)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}

	slog.Info("import summary",
		slog.Int("imported", st.imported),
		slog.Int("duplicates", st.duplicates),
		slog.Int("invalid", st.invalid),
	)
	return nil
}

func importFiles(ctx context.Context, files []string, seen *dedupe, store couponStore, batchSize int) (stats, error) {
	if batchSize <= 0 {
		batchSize = defaultBatch
	}
	var (
		st    stats
		batch = make([]pricing.Coupon, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		st.imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, path := range files {
		err := streamFile(ctx, path, func(line int, record []string) error {
			n, err := parseRecord(record)
			if err != nil {
				st.invalid++
				slog.Warn("skipping invalid row",
					slog.String("file", path),
					slog.Int("line", line),
					slog.String("reason", err.Error()),
				)
				return nil
			}
			// Only valid rows claim a code.
			c := n.Coupon()
			if !seen.first(c.Code) {
				st.duplicates++
				return nil
			}
			batch = append(batch, c)
			if len(batch) >= batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return st, errors.Wrapf(err, "import %s", path)
		}
		slog.Info("file imported", slog.String("path", path), slog.Int("imported", st.imported+len(batch)))
	}
	if err := flush(); err != nil {
		return st, err
	}
	return st, nil
}

type discardStore struct{}

func (discardStore) UpsertBatch(context.Context, []pricing.Coupon) error { return nil }
