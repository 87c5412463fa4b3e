package telemetry

// Histogram bucket definitions
var (
	// JobBuckets for whole-job durations (seconds). Jobs stream hundreds of
	// megabytes, so the tail reaches into minutes.
	JobBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

	// BlobOpBuckets for single blob get/put operations
	BlobOpBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// Job metrics
var (
	// JobsTotal counts jobs by type (GENERATE_PUB_PAIR_LIST, MATCH, unknown) and result (SUCCESS, FAILURE)
	JobsTotal CounterVec = noopCounterVec{}

	// JobDurationSeconds measures whole-job latency by type
	JobDurationSeconds HistogramVec = noopHistogramVec{}

	// JobsInFlight tracks jobs currently executing
	JobsInFlight Gauge = NoopStat{}

	// JobPollsTotal counts queue polls by result (job, empty, error)
	JobPollsTotal CounterVec = noopCounterVec{}
)

// Blob stream metrics
var (
	// BlobChunksTotal counts streamed chunks by direction (download, upload)
	BlobChunksTotal CounterVec = noopCounterVec{}

	// BlobBytesTotal counts streamed bytes by direction (download, upload)
	BlobBytesTotal CounterVec = noopCounterVec{}

	// BlobOpSeconds measures bulk blob operation latency by op (get, put)
	BlobOpSeconds HistogramVec = noopHistogramVec{}

	// BlobStreamFailuresTotal counts stream terminations with failure status
	BlobStreamFailuresTotal Counter = NoopStat{}
)

// Pipeline metrics
var (
	// ParserBufferedBytes tracks bytes held by the newest stream parser
	ParserBufferedBytes Gauge = NoopStat{}

	// ParserBackpressureTotal counts chunk submissions rejected at capacity
	ParserBackpressureTotal Counter = NoopStat{}

	// MatchHitsTotal counts advertiser IDs found in the publisher mapping
	MatchHitsTotal Counter = NoopStat{}

	// MatchMissesTotal counts advertiser IDs absent from the mapping
	MatchMissesTotal Counter = NoopStat{}

	// PrefilterSkipsTotal counts table lookups avoided by the cuckoo prefilter
	PrefilterSkipsTotal Counter = NoopStat{}

	// SurrogatesAssignedTotal counts surrogate tokens issued
	SurrogatesAssignedTotal Counter = NoopStat{}
)

func initializeMetrics() {
	JobsTotal = NewCounterVec(
		"jobs_total",
		"Jobs processed by type and result",
		[]string{"type", "result"},
	)
	JobDurationSeconds = NewHistogramVecWithBuckets(
		"job_duration_seconds",
		"Whole-job latency by type",
		JobBuckets,
		[]string{"type"},
	)
	JobsInFlight = NewGauge(
		"jobs_in_flight",
		"Jobs currently executing",
	)
	JobPollsTotal = NewCounterVec(
		"job_polls_total",
		"Queue polls by result",
		[]string{"result"},
	)

	BlobChunksTotal = NewCounterVec(
		"blob_chunks_total",
		"Streamed blob chunks by direction",
		[]string{"direction"},
	)
	BlobBytesTotal = NewCounterVec(
		"blob_bytes_total",
		"Streamed blob bytes by direction",
		[]string{"direction"},
	)
	BlobOpSeconds = NewHistogramVecWithBuckets(
		"blob_op_seconds",
		"Bulk blob operation latency",
		BlobOpBuckets,
		[]string{"op"},
	)
	BlobStreamFailuresTotal = NewCounter(
		"blob_stream_failures_total",
		"Blob streams terminated with a failure status",
	)

	ParserBufferedBytes = NewGauge(
		"parser_buffered_bytes",
		"Bytes held by the stream parser",
	)
	ParserBackpressureTotal = NewCounter(
		"parser_backpressure_total",
		"Chunk submissions rejected because the parser buffer was at capacity",
	)
	MatchHitsTotal = NewCounter(
		"match_hits_total",
		"Advertiser IDs found in the publisher mapping",
	)
	MatchMissesTotal = NewCounter(
		"match_misses_total",
		"Advertiser IDs absent from the publisher mapping",
	)
	PrefilterSkipsTotal = NewCounter(
		"prefilter_skips_total",
		"Match-table lookups avoided by the membership prefilter",
	)
	SurrogatesAssignedTotal = NewCounter(
		"surrogates_assigned_total",
		"Surrogate tokens issued",
	)
}
