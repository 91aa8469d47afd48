package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
)

// Source fetches raw NDVI records.
type Source interface {
	Kind() domain.SourceKind
	Fetch(ctx context.Context, req domain.FetchRequest) domain.FetchResult
}

// Publisher receives every committed index.
type Publisher interface {
	PublishSnapshot(ctx context.Context, idx *domain.MonthIndex) error
}

// Options controls which records are admitted into an index.
type Options struct {
	Bounds         domain.BBox
	MinNDVI        float64
	SampleStride   int // keep raw records where i%SampleStride == 0; <1 means 1
	MaxPoints      int // 0 means unlimited
	Band           string
	PrimaryTimeout time.Duration // 0 leaves the primary call bounded by ctx only
}

// Report summarizes one ingestion run.
type Report struct {
	RunID    string            `json:"run_id"`
	Seq      uint64            `json:"seq"`
	Source   domain.SourceKind `json:"source,omitempty"`
	Read     int               `json:"read"`
	Rejected map[string]int    `json:"rejected"`
	Filtered map[string]int    `json:"filtered"`
	Accepted int               `json:"accepted"`
	Capped   bool              `json:"capped"`
	Months   map[string]int    `json:"months"`
	Warnings []string          `json:"warnings,omitempty"`
	Outcome  string            `json:"outcome,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// Run outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeEmpty     = "empty"
	OutcomeStale     = "stale"
)

// Ingestor fetches records with primary-then-secondary fallback, filters them
// and builds MonthIndex snapshots.
type Ingestor struct {
	primary     Source
	secondary   Source
	transformer *RecordTransformer
	store       *Store
	publisher   Publisher
	opts        Options
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewIngestor creates an Ingestor. A nil store gets a fresh one.
func NewIngestor(primary, secondary Source, store *Store, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	if opts.SampleStride < 1 {
		opts.SampleStride = 1
	}
	if store == nil {
		store = NewStore()
	}
	return &Ingestor{
		primary:     primary,
		secondary:   secondary,
		transformer: NewTransformer(opts.Band),
		store:       store,
		opts:        opts,
		logger:      logger,
		metrics:     metrics,
	}
}

// WithPublisher attaches a publisher for committed snapshots.
func (in *Ingestor) WithPublisher(p Publisher) *Ingestor {
	in.publisher = p
	return in
}

// Store returns the store runs are committed to.
func (in *Ingestor) Store() *Store { return in.store }

// Run performs a full cycle: reserve a sequence, ingest, and commit unless a
// newer run has started meanwhile. Committed snapshots are handed to the
// publisher; publish failures are logged and do not undo the commit.
func (in *Ingestor) Run(ctx context.Context, req domain.FetchRequest) Report {
	seq := in.store.Begin()
	idx, rep := in.ingest(ctx, req, seq)

	source := string(rep.Source)
	if source == "" {
		source = "none"
	}

	if !in.store.Commit(idx) {
		rep.Outcome = OutcomeStale
		in.metrics.IngestRuns.WithLabelValues(source, OutcomeStale).Inc()
		in.logger.Info("discarding stale ingestion result", "run_id", rep.RunID, "seq", seq)
		return rep
	}

	rep.Outcome = OutcomeCommitted
	if idx.Len() == 0 {
		rep.Outcome = OutcomeEmpty
	}
	in.metrics.IngestRuns.WithLabelValues(source, rep.Outcome).Inc()
	in.metrics.IndexPoints.Set(float64(idx.Len()))
	in.logger.Info("index committed",
		"run_id", rep.RunID,
		"seq", seq,
		"source", source,
		"points", idx.Len(),
		"months", idx.Months(),
	)

	if in.publisher != nil && idx.Len() > 0 {
		if err := in.publisher.PublishSnapshot(ctx, idx); err != nil {
			in.logger.Error("publish snapshot failed", "run_id", rep.RunID, "error", err)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("publish: %v", err))
		}
	}
	return rep
}

// Ingest builds an index without committing it. It never fails: when both
// sources fail the index is empty and the report carries warnings.
func (in *Ingestor) Ingest(ctx context.Context, req domain.FetchRequest) (*domain.MonthIndex, Report) {
	return in.ingest(ctx, req, 0)
}

func (in *Ingestor) ingest(ctx context.Context, req domain.FetchRequest, seq uint64) (*domain.MonthIndex, Report) {
	start := domain.Now()
	rep := Report{
		RunID:    uuid.NewString(),
		Seq:      seq,
		Rejected: make(map[string]int),
		Filtered: make(map[string]int),
		Months:   make(map[string]int),
	}
	logger := in.logger.With("run_id", rep.RunID, "seq", seq)

	records, kind, ok := in.fetch(ctx, req, logger, &rep)
	if !ok {
		rep.Duration = domain.Now().Sub(start)
		in.metrics.IngestDuration.Observe(rep.Duration.Seconds())
		return domain.EmptyMonthIndex(domain.IndexMeta{RunID: rep.RunID, Seq: seq}), rep
	}
	rep.Source = kind
	rep.Read = len(records)
	in.metrics.RecordsRead.WithLabelValues(string(kind)).Add(float64(len(records)))

	builder := domain.NewMonthIndexBuilder()
	loggedReasons := make(map[domain.RejectReason]bool)

	for i, raw := range records {
		if i%in.opts.SampleStride != 0 {
			in.filter(&rep, "stride")
			continue
		}

		p, err := in.transformer.Transform(raw, kind)
		if err != nil {
			reason := string(domain.ReasonNonNumeric)
			var rej *domain.RejectError
			if errors.As(err, &rej) {
				reason = string(rej.Reason)
				if !loggedReasons[rej.Reason] {
					loggedReasons[rej.Reason] = true
					logger.Debug("record rejected", "index", i, "error", err, "record", raw)
				}
			}
			rep.Rejected[reason]++
			in.metrics.RecordsRejected.WithLabelValues(string(kind), reason).Inc()
			continue
		}

		if !in.opts.Bounds.Contains(p.Lat, p.Lng) {
			in.filter(&rep, "bbox")
			continue
		}
		if p.NDVI < in.opts.MinNDVI {
			in.filter(&rep, "quality")
			continue
		}

		builder.Add(p)
		rep.Accepted++
		rep.Months[p.MonthKey]++
		in.metrics.PointsAccepted.Inc()

		if in.opts.MaxPoints > 0 && builder.Len() >= in.opts.MaxPoints {
			if remaining := len(records) - 1 - i; remaining > 0 {
				rep.Capped = true
				rep.Filtered["cap"] += remaining
				in.metrics.PointsFiltered.WithLabelValues("cap").Add(float64(remaining))
			}
			break
		}
	}

	idx := builder.Build(domain.IndexMeta{RunID: rep.RunID, Seq: seq, Source: kind})
	rep.Duration = domain.Now().Sub(start)
	in.metrics.IngestDuration.Observe(rep.Duration.Seconds())

	if rep.Accepted == 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("no %s records passed validation and filters", kind))
	}
	logger.Info("ingestion finished",
		"source", kind,
		"read", rep.Read,
		"accepted", rep.Accepted,
		"rejected", rep.Rejected,
		"filtered", rep.Filtered,
		"duration", rep.Duration,
	)
	return idx, rep
}

// fetch tries the primary source, falling back to the secondary one on a
// failed result. ok is false when both fail.
func (in *Ingestor) fetch(ctx context.Context, req domain.FetchRequest, logger *slog.Logger, rep *Report) ([]domain.RawRecord, domain.SourceKind, bool) {
	if in.primary != nil {
		res := in.fetchPrimary(ctx, req)
		if res.Status == domain.FetchOK && len(res.Records) > 0 {
			return res.Records, in.primary.Kind(), true
		}
		reason := res.Reason
		if res.Status == domain.FetchOK {
			reason = "no records"
		}
		in.metrics.SourceFailures.WithLabelValues(string(in.primary.Kind())).Inc()
		logger.Warn("primary source unavailable, falling back", "source", in.primary.Kind(), "reason", reason)
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s unavailable: %s", in.primary.Kind(), reason))
	}

	if in.secondary == nil {
		rep.Warnings = append(rep.Warnings, "no fallback source configured")
		return nil, "", false
	}

	res := in.secondary.Fetch(ctx, req)
	if res.Status != domain.FetchOK {
		in.metrics.SourceFailures.WithLabelValues(string(in.secondary.Kind())).Inc()
		logger.Warn("fallback source failed, index will be empty", "source", in.secondary.Kind(), "reason", res.Reason)
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s unavailable: %s", in.secondary.Kind(), res.Reason))
		return nil, "", false
	}
	return res.Records, in.secondary.Kind(), true
}

func (in *Ingestor) fetchPrimary(ctx context.Context, req domain.FetchRequest) domain.FetchResult {
	if in.opts.PrimaryTimeout <= 0 {
		return in.primary.Fetch(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, in.opts.PrimaryTimeout)
	defer cancel()
	return in.primary.Fetch(ctx, req)
}

func (in *Ingestor) filter(rep *Report, reason string) {
	rep.Filtered[reason]++
	in.metrics.PointsFiltered.WithLabelValues(reason).Inc()
}
