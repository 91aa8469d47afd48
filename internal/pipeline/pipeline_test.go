package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
)

// --- mocks ---

type mockSource struct {
	kind    domain.SourceKind
	result  domain.FetchResult
	calls   int
	gotCtx  context.Context
	blockOn chan struct{}
	mu      sync.Mutex
}

func (m *mockSource) Kind() domain.SourceKind { return m.kind }

func (m *mockSource) Fetch(ctx context.Context, _ domain.FetchRequest) domain.FetchResult {
	m.mu.Lock()
	m.calls++
	m.gotCtx = ctx
	block := m.blockOn
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return m.result
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPublisher struct {
	published []*domain.MonthIndex
	err       error
}

func (m *mockPublisher) PublishSnapshot(_ context.Context, idx *domain.MonthIndex) error {
	m.published = append(m.published, idx)
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Unregistered metrics avoid "already registered" panics across tests.
	return observability.NewMetricsForTesting()
}

var wideBounds = domain.BBox{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}

func primaryRecord(date string, lat, lng float64, value int) domain.RawRecord {
	return domain.RawRecord{
		"band":          domain.DefaultNDVIBand,
		"calendar_date": date,
		"latitude":      lat,
		"longitude":     lng,
		"value":         float64(value),
	}
}

func csvRecord(date, lat, lng, ndvi string) domain.RawRecord {
	return domain.RawRecord{"date": date, "latitude": lat, "longitude": lng, "NDVI": ndvi}
}

func failing(kind domain.SourceKind, reason string) *mockSource {
	return &mockSource{kind: kind, result: domain.FetchFailure(reason)}
}

func succeeding(kind domain.SourceKind, records ...domain.RawRecord) *mockSource {
	return &mockSource{kind: kind, result: domain.FetchSucceeded(records)}
}

// --- tests ---

func TestIngest_PrimarySuccessSkipsFallback(t *testing.T) {
	primary := succeeding(domain.SourcePrimary,
		primaryRecord("2024-07-11", 52, 19, 6000),
		primaryRecord("2024-08-12", 52, 19, 6500),
	)
	secondary := succeeding(domain.SourceSecondary, csvRecord("2024-07-11", "52", "19", "0.9"))

	in := pipeline.NewIngestor(primary, secondary, nil, pipeline.Options{Bounds: wideBounds, MinNDVI: 0.1}, discardLogger(), newTestMetrics())
	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, 0, secondary.callCount())
	assert.Equal(t, domain.SourcePrimary, rep.Source)
	assert.Equal(t, []string{"07", "08"}, idx.Months())
	assert.InDelta(t, 0.6, idx.Get("07")[0].NDVI, 1e-9)
	assert.Equal(t, domain.SourcePrimary, idx.Meta().Source)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, rep.RunID, idx.Meta().RunID)
}

func TestIngest_FallsBackOnPrimaryFailure(t *testing.T) {
	metrics := newTestMetrics()
	primary := failing(domain.SourcePrimary, "status 503")
	secondary := succeeding(domain.SourceSecondary, csvRecord("2024-07-11", "52.0", "19.0", "0.6"))

	in := pipeline.NewIngestor(primary, secondary, nil, pipeline.Options{Bounds: wideBounds, MinNDVI: 0.1}, discardLogger(), metrics)
	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, 1, secondary.callCount())
	assert.Equal(t, domain.SourceSecondary, rep.Source)
	assert.Equal(t, 1, idx.Len())
	// CSV values are not rescaled.
	assert.InDelta(t, 0.6, idx.Get("07")[0].NDVI, 1e-12)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "status 503")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SourceFailures.WithLabelValues("modis")), 0)
}

func TestIngest_EmptyPrimaryResultFallsBack(t *testing.T) {
	primary := succeeding(domain.SourcePrimary)
	secondary := succeeding(domain.SourceSecondary, csvRecord("2024-07-11", "52", "19", "0.6"))

	in := pipeline.NewIngestor(primary, secondary, nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())
	_, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, domain.SourceSecondary, rep.Source)
}

func TestIngest_BothSourcesFail(t *testing.T) {
	metrics := newTestMetrics()
	in := pipeline.NewIngestor(
		failing(domain.SourcePrimary, "timeout"),
		failing(domain.SourceSecondary, "parse csv: bad quote"),
		nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), metrics,
	)

	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})
	require.NotNil(t, idx)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Months())
	assert.Len(t, rep.Warnings, 2)
	assert.Empty(t, rep.Source)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SourceFailures.WithLabelValues("csv")), 0)
}

func TestIngest_PrimaryTimeoutApplied(t *testing.T) {
	primary := failing(domain.SourcePrimary, "timeout")
	in := pipeline.NewIngestor(primary, nil, nil,
		pipeline.Options{Bounds: wideBounds, PrimaryTimeout: time.Second}, discardLogger(), newTestMetrics())

	in.Ingest(context.Background(), domain.FetchRequest{})

	deadline, ok := primary.gotCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

func TestIngest_BBoxFilterIsInclusive(t *testing.T) {
	bounds := domain.BBox{MinLat: 50, MinLng: 15, MaxLat: 54, MaxLng: 24}
	secondary := succeeding(domain.SourceSecondary,
		csvRecord("2024-07-11", "50", "15", "0.5"),   // corner
		csvRecord("2024-07-11", "54", "24", "0.5"),   // corner
		csvRecord("2024-07-11", "49.99", "20", "0.5"), // south
		csvRecord("2024-07-11", "52", "24.01", "0.5"), // east
	)

	in := pipeline.NewIngestor(nil, secondary, nil, pipeline.Options{Bounds: bounds}, discardLogger(), newTestMetrics())
	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 2, rep.Filtered["bbox"])
}

func TestIngest_QualityFilter(t *testing.T) {
	secondary := succeeding(domain.SourceSecondary,
		csvRecord("2024-07-11", "52", "19", "0.05"),
		csvRecord("2024-07-11", "52", "19", "0.1"),
		csvRecord("2024-07-11", "52", "19", "0.3"),
	)

	in := pipeline.NewIngestor(nil, secondary, nil, pipeline.Options{Bounds: wideBounds, MinNDVI: 0.1}, discardLogger(), newTestMetrics())
	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 1, rep.Filtered["quality"])
}

func TestIngest_RejectionsCountedByReason(t *testing.T) {
	metrics := newTestMetrics()
	secondary := succeeding(domain.SourceSecondary,
		csvRecord("2024-07-11", "52", "19", "0.5"),
		csvRecord("2024-07-11", "north", "19", "0.5"),
		domain.RawRecord{"date": "2024-07-11", "latitude": "52", "NDVI": "0.5"},
		csvRecord("11/07/2024", "52", "19", "0.5"),
	)

	in := pipeline.NewIngestor(nil, secondary, nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), metrics)
	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 4, rep.Read)
	want := map[string]int{"non_numeric": 1, "missing_field": 1, "bad_date": 1}
	if diff := cmp.Diff(want, rep.Rejected); diff != "" {
		t.Errorf("rejected mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecordsRejected.WithLabelValues("csv", "bad_date")), 0)
}

func TestIngest_WrongBandRejected(t *testing.T) {
	rec := primaryRecord("2024-07-11", 52, 19, 5000)
	rec["band"] = "250m_16_days_EVI"
	primary := succeeding(domain.SourcePrimary, rec, primaryRecord("2024-07-11", 52, 19, 5000))

	in := pipeline.NewIngestor(primary, nil, nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())
	idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, rep.Rejected["wrong_band"])
}

func TestIngest_OrdinalDateFilled(t *testing.T) {
	rec := domain.RawRecord{
		"band":       domain.DefaultNDVIBand,
		"modis_date": "A2024225", // 2024-08-12
		"latitude":   52.0,
		"longitude":  19.0,
		"value":      6500.0,
	}
	primary := succeeding(domain.SourcePrimary, rec)

	in := pipeline.NewIngestor(primary, nil, nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())
	idx, _ := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, []string{"08"}, idx.Months())
	_, has := rec["calendar_date"]
	assert.False(t, has, "source record must not be mutated")
}

func TestIngest_StrideAndCap(t *testing.T) {
	records := make([]domain.RawRecord, 0, 10)
	for range 10 {
		records = append(records, csvRecord("2024-07-11", "52", "19", "0.5"))
	}

	tests := []struct {
		name     string
		stride   int
		max      int
		accepted int
		capped   bool
	}{
		{"no limits", 1, 0, 10, false},
		{"stride 3", 3, 0, 4, false},
		{"cap 4", 1, 4, 4, true},
		{"stride 2 cap 3", 2, 3, 3, true},
		{"cap equals supply", 1, 10, 10, false},
		{"zero stride treated as 1", 0, 0, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := pipeline.NewIngestor(nil, succeeding(domain.SourceSecondary, records...), nil,
				pipeline.Options{Bounds: wideBounds, SampleStride: tt.stride, MaxPoints: tt.max},
				discardLogger(), newTestMetrics())

			idx, rep := in.Ingest(context.Background(), domain.FetchRequest{})
			assert.Equal(t, tt.accepted, idx.Len())
			assert.Equal(t, tt.accepted, rep.Accepted)
			assert.Equal(t, tt.capped, rep.Capped)
		})
	}
}

func TestIngest_PreservesSourceOrderWithinMonth(t *testing.T) {
	secondary := succeeding(domain.SourceSecondary,
		csvRecord("2024-07-30", "52.3", "19", "0.3"),
		csvRecord("2024-08-01", "52.2", "19", "0.4"),
		csvRecord("2024-07-01", "52.1", "19", "0.5"),
	)

	in := pipeline.NewIngestor(nil, secondary, nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())
	idx, _ := in.Ingest(context.Background(), domain.FetchRequest{})

	july := idx.Get("07")
	require.Len(t, july, 2)
	assert.InDelta(t, 52.3, july[0].Lat, 1e-12)
	assert.InDelta(t, 52.1, july[1].Lat, 1e-12)
}

func TestIngest_BuildTimeFromClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	in := pipeline.NewIngestor(nil, succeeding(domain.SourceSecondary, csvRecord("2024-07-11", "52", "19", "0.5")),
		nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())
	idx, _ := in.Ingest(context.Background(), domain.FetchRequest{})

	assert.Equal(t, fake.Now(), idx.BuiltAt())
}

func TestRun_CommitsAndReplaces(t *testing.T) {
	metrics := newTestMetrics()
	store := pipeline.NewStore()
	secondary := succeeding(domain.SourceSecondary,
		csvRecord("2024-07-11", "52", "19", "0.5"),
		csvRecord("2024-08-11", "52", "19", "0.5"),
	)
	in := pipeline.NewIngestor(nil, secondary, store, pipeline.Options{Bounds: wideBounds}, discardLogger(), metrics)

	require.Error(t, store.CheckReadiness(context.Background()))

	rep := in.Run(context.Background(), domain.FetchRequest{})
	assert.Equal(t, pipeline.OutcomeCommitted, rep.Outcome)
	assert.Equal(t, []string{"07", "08"}, store.Current().Months())
	require.NoError(t, store.CheckReadiness(context.Background()))

	// A second run replaces the index rather than merging into it.
	secondary.result = domain.FetchSucceeded([]domain.RawRecord{csvRecord("2024-09-11", "52", "19", "0.5")})
	rep = in.Run(context.Background(), domain.FetchRequest{})
	assert.Equal(t, pipeline.OutcomeCommitted, rep.Outcome)
	assert.Equal(t, []string{"09"}, store.Current().Months())
	assert.Equal(t, uint64(2), store.Current().Meta().Seq)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.IndexPoints), 0)
}

func TestRun_EmptyOutcomeWhenBothFail(t *testing.T) {
	store := pipeline.NewStore()
	in := pipeline.NewIngestor(failing(domain.SourcePrimary, "x"), failing(domain.SourceSecondary, "y"),
		store, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())

	rep := in.Run(context.Background(), domain.FetchRequest{})
	assert.Equal(t, pipeline.OutcomeEmpty, rep.Outcome)
	assert.Equal(t, 0, store.Current().Len())
}

func TestRun_StaleResultDiscarded(t *testing.T) {
	store := pipeline.NewStore()
	release := make(chan struct{})
	slow := &mockSource{
		kind:    domain.SourceSecondary,
		result:  domain.FetchSucceeded([]domain.RawRecord{csvRecord("2024-07-11", "52", "19", "0.5")}),
		blockOn: release,
	}
	fast := succeeding(domain.SourceSecondary, csvRecord("2024-08-11", "52", "19", "0.5"))

	slowIn := pipeline.NewIngestor(nil, slow, store, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())
	fastIn := pipeline.NewIngestor(nil, fast, store, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics())

	done := make(chan pipeline.Report)
	go func() { done <- slowIn.Run(context.Background(), domain.FetchRequest{}) }()

	require.Eventually(t, func() bool { return slow.callCount() == 1 }, time.Second, 5*time.Millisecond)

	fastRep := fastIn.Run(context.Background(), domain.FetchRequest{})
	assert.Equal(t, pipeline.OutcomeCommitted, fastRep.Outcome)

	close(release)
	slowRep := <-done
	assert.Equal(t, pipeline.OutcomeStale, slowRep.Outcome)
	assert.Equal(t, []string{"08"}, store.Current().Months())
}

func TestRun_PublishesCommittedSnapshot(t *testing.T) {
	pub := &mockPublisher{}
	in := pipeline.NewIngestor(nil, succeeding(domain.SourceSecondary, csvRecord("2024-07-11", "52", "19", "0.5")),
		nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics()).WithPublisher(pub)

	in.Run(context.Background(), domain.FetchRequest{})
	require.Len(t, pub.published, 1)
	assert.Same(t, in.Store().Current(), pub.published[0])
}

func TestRun_PublishFailureKeepsCommit(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	in := pipeline.NewIngestor(nil, succeeding(domain.SourceSecondary, csvRecord("2024-07-11", "52", "19", "0.5")),
		nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics()).WithPublisher(pub)

	rep := in.Run(context.Background(), domain.FetchRequest{})
	assert.Equal(t, pipeline.OutcomeCommitted, rep.Outcome)
	assert.Equal(t, 1, in.Store().Current().Len())
	require.NotEmpty(t, rep.Warnings)
	assert.Contains(t, rep.Warnings[len(rep.Warnings)-1], "broker down")
}

func TestRun_NoPublishForEmptyIndex(t *testing.T) {
	pub := &mockPublisher{}
	in := pipeline.NewIngestor(nil, failing(domain.SourceSecondary, "gone"),
		nil, pipeline.Options{Bounds: wideBounds}, discardLogger(), newTestMetrics()).WithPublisher(pub)

	in.Run(context.Background(), domain.FetchRequest{})
	assert.Empty(t, pub.published)
}

func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	store := pipeline.NewStore()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				idx := store.Current()
				// Every committed index holds exactly seq points in month "07".
				if idx.Len() != int(idx.Meta().Seq) {
					t.Errorf("torn snapshot: len %d seq %d", idx.Len(), idx.Meta().Seq)
					return
				}
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		seq := store.Begin()
		b := domain.NewMonthIndexBuilder()
		for range i {
			b.Add(domain.Point{MonthKey: "07", NDVI: 0.5})
		}
		require.True(t, store.Commit(b.Build(domain.IndexMeta{Seq: seq})))
	}
	close(stop)
	wg.Wait()
}
