package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/storage/postgres"
)

const (
	bloomCapacity = 2_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// feedScan holds what pass 2 found in a single feed.
type feedScan struct {
	unique     []record
	candidates []record
}

func main() {
	var (
		feedDir     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&feedDir, "feed-dir", "data/feeds", "directory containing supplier feeds (*.jsonl.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "merge feeds and report without writing to the database")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, feedDir, databaseURL, dryRun); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, feedDir, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(feedDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	if len(files) == 0 {
		return errors.Errorf("no feeds found in %s", feedDir)
	}
	sort.Strings(files)

	// Pass 1: one ISBN bloom filter per feed.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: split records into ones only a single feed carries and
	// ones that may be duplicated across feeds.
	slog.Info("pass 2: scanning feeds")

	books, err := collectBooks(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "collect books")
	}

	slog.Info("books merged", slog.Int("count", len(books)))

	if dryRun || len(books) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeBooks(ctx, postgres.NewBookRepository(pool), books)
}

// buildBloomFilters creates one bloom filter per feed, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			n, err := streamFeed(ctx, f, func(r record) {
				filter.AddString(r.ISBN)
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}
			slog.Info("pass 1 complete", slog.String("feed", filepath.Base(f)), slog.Int("records", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectBooks re-streams every feed and checks each ISBN against the other
// feeds' filters. Misses are final; hits are grouped and merged.
func collectBooks(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]record, error) {
	scans := make([]feedScan, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			var scan feedScan
			n, err := streamFeed(ctx, f, func(r record) {
				if seenElsewhere(filters, i, r.ISBN) {
					scan.candidates = append(scan.candidates, r)
				} else {
					scan.unique = append(scan.unique, r)
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", f)
			}
			slog.Info("pass 2 complete",
				slog.String("feed", filepath.Base(f)),
				slog.Int("records", n),
				slog.Int("candidates", len(scan.candidates)),
			)
			scans[i] = scan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		out    []record
		groups = make(map[string][]record)
	)
	for _, s := range scans {
		out = append(out, s.unique...)
		for _, r := range s.candidates {
			groups[r.ISBN] = append(groups[r.ISBN], r)
		}
	}
	for _, g := range groups {
		out = append(out, merge(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISBN < out[j].ISBN })
	return out, nil
}

func seenElsewhere(filters []*bloom.BloomFilter, self int, isbn string) bool {
	for j, f := range filters {
		if j != self && f.TestString(isbn) {
			return true
		}
	}
	return false
}

// writeBooks upserts merged books by ISBN.
func writeBooks(ctx context.Context, repo book.Repository, books []record) error {
	slog.Info("writing books to database", slog.Int("count", len(books)))

	now := time.Now().UTC()
	var skipped int
	for i, r := range books {
		b := r.Book(uuid.NewString(), now)
		if err := b.Validate(); err != nil {
			skipped++
			slog.Warn("skipping invalid book", slog.String("isbn", r.ISBN), slog.String("error", err.Error()))
			continue
		}
		if err := repo.UpsertByISBN(ctx, b); err != nil {
			return errors.Wrapf(err, "upsert book %s", r.ISBN)
		}

		if (i+1)%1000 == 0 || i+1 == len(books) {
			slog.Info("write progress", slog.Int("written", i+1-skipped), slog.Int("total", len(books)))
		}
	}
	return nil
}
