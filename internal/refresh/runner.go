package refresh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/model"
	"rank_tracker/internal/notify"
	"rank_tracker/internal/scraper"
	"rank_tracker/internal/storage"
)

// Lookuper performs one ranking lookup against the scraping worker.
type Lookuper interface {
	Lookup(ctx context.Context, keyword, blogID, date string) ([]scraper.Result, error)
}

// BatchDispatcher submits one message batch to the delivery queue.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, queueName string, msgs []notify.Message) error
}

// Runner drives one full refresh cycle: open the transaction, fan per-
// keyword lookups out to the scraping worker, record results and progress,
// close, then aggregate and notify subscribed targets.
type Runner struct {
	store       storage.Storage
	coord       *Coordinator
	lookup      Lookuper
	agg         *aggregate.Aggregator
	dispatcher  BatchDispatcher
	queueName   string
	concurrency int
	log         *slog.Logger
}

// NewRunner wires a Runner. concurrency bounds simultaneous lookups;
// values below 1 are raised to 1.
func NewRunner(store storage.Storage, coord *Coordinator, lookup Lookuper, agg *aggregate.Aggregator,
	dispatcher BatchDispatcher, queueName string, concurrency int, log *slog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		store:       store,
		coord:       coord,
		lookup:      lookup,
		agg:         agg,
		dispatcher:  dispatcher,
		queueName:   queueName,
		concurrency: concurrency,
		log:         log,
	}
}

// Run executes a refresh cycle for the project and returns the finished
// transaction. A lookup failure is logged and still counted as progress;
// the transaction tracks attempts, not successes. ErrConflict surfaces
// when a refresh is already running.
func (r *Runner) Run(ctx context.Context, slug, refreshDate string) (*model.RefreshTransaction, error) {
	project, err := r.store.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	trackers, err := r.store.ListActiveTrackers(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	keywordIDs := make([]int64, len(trackers))
	for i, t := range trackers {
		keywordIDs[i] = t.KeywordID
	}
	keywords, err := r.store.KeywordsByIDs(ctx, keywordIDs)
	if err != nil {
		return nil, err
	}

	tx, err := r.coord.Open(ctx, slug, refreshDate, len(trackers))
	if err != nil {
		return nil, err
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, t := range trackers {
		g.Go(func() error {
			if err := r.scrapeTracker(gctx, t, keywords[t.KeywordID].Name, refreshDate); err != nil {
				failed.Add(1)
				r.log.Error("tracker lookup", "tracker_id", t.ID, "error", err)
			}
			if _, err := r.coord.Progress(gctx, tx.ID, 1); err != nil {
				r.log.Error("report progress", "tx_id", tx.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// The final Progress call normally auto-closes; this is the recovery
	// path when the run was cancelled mid-flight.
	if err := r.coord.Close(ctx, tx.ID); err != nil {
		return nil, err
	}
	done, err := r.store.GetRefresh(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	r.log.Info("refresh run finished",
		"project", slug, "tx_id", done.ID,
		"completed", done.CompletedCount, "failed", failed.Load())

	if err := r.notifyTargets(ctx, project, done); err != nil {
		return nil, err
	}
	return done, nil
}

func (r *Runner) scrapeTracker(ctx context.Context, t model.KeywordTracker, keyword, date string) error {
	results, err := r.lookup.Lookup(ctx, keyword, "", date)
	if err != nil {
		return err
	}
	rows := make([]model.RankResult, 0, len(results))
	for _, res := range results {
		rows = append(rows, model.RankResult{
			TrackerID:   t.ID,
			Date:        date,
			BlogID:      res.BlogID,
			PostURL:     res.PostURL,
			RankInBlock: res.RankInBlock,
			BlockName:   res.BlockName,
		})
	}
	return r.store.AddRankResults(ctx, rows)
}

// notifyTargets renders the report and submits one message per active
// target. The dispatcher never partially retries; on failure the whole
// batch is resubmitted with backoff.
func (r *Runner) notifyTargets(ctx context.Context, project *model.Project, tx *model.RefreshTransaction) error {
	targets, err := r.store.ListActiveTargets(ctx, project.ID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	reports, err := r.agg.TrackersAll(ctx, project.Slug)
	if err != nil {
		return err
	}
	report := notify.FormatRefreshReport(project, tx, reports)
	msgs := notify.ReportMessages(targets, report)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := r.dispatcher.Dispatch(ctx, r.queueName, msgs); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
