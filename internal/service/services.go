package service

import (
	"errors"
	"time"

	"github.com/naperu/zapinsight/internal/llm"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/pkg/config"
)

var (
	ErrContactNotFound   = errors.New("contact not found")
	ErrInvalidAddress    = errors.New("address is not an individual chat")
	ErrNoConversation    = errors.New("no conversation")
	ErrMalformedOutput   = errors.New("malformed model output")
	ErrQueueItemNotFound = errors.New("queue item not found")
	ErrNotRequeueable    = errors.New("only failed queue items can be requeued")
	ErrLeaseLost         = errors.New("queue item is no longer processando")
)

// Stores groups the persistence ports.
type Stores struct {
	Contacts ContactStore
	Messages MessageStore
	Queue    QueueStore
	Insights InsightStore
	Runs     RunStore
}

// Options are the tunables of the pipeline, usually read from config.
type Options struct {
	LLMModel           string
	MaxAttempts        int
	Lease              time.Duration
	AnalysisBatchSize  int
	AnalysisDelay      time.Duration
	TranscriptMessages int
	TranscriptMaxChars int
	PollChatLimit      int
	PollMessageLimit   int
	SyncBatchSize      int
	SyncConcurrency    int
	SyncBatchPause     time.Duration
	ProfileCacheTTL    time.Duration
	InsightCacheTTL    time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LLMModel:           cfg.LLMModel,
		MaxAttempts:        cfg.AnalysisMaxAttempts,
		Lease:              cfg.AnalysisLease,
		AnalysisBatchSize:  cfg.AnalysisBatchSize,
		AnalysisDelay:      cfg.AnalysisDelay,
		TranscriptMessages: cfg.TranscriptMessages,
		TranscriptMaxChars: cfg.TranscriptMaxChars,
		PollChatLimit:      cfg.PollChatLimit,
		PollMessageLimit:   cfg.PollMessageLimit,
		SyncBatchSize:      cfg.SyncBatchSize,
		SyncConcurrency:    cfg.SyncConcurrency,
		SyncBatchPause:     cfg.SyncBatchPause,
		ProfileCacheTTL:    cfg.ProfileCacheTTL,
		InsightCacheTTL:    10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Minute
	}
	if o.AnalysisBatchSize <= 0 {
		o.AnalysisBatchSize = 10
	}
	if o.TranscriptMessages <= 0 {
		o.TranscriptMessages = 50
	}
	if o.TranscriptMaxChars <= 0 {
		o.TranscriptMaxChars = 12000
	}
	if o.PollChatLimit <= 0 {
		o.PollChatLimit = 30
	}
	if o.PollMessageLimit <= 0 {
		o.PollMessageLimit = 30
	}
	if o.SyncBatchSize <= 0 {
		o.SyncBatchSize = 50
	}
	if o.SyncConcurrency <= 0 {
		o.SyncConcurrency = 3
	}
	if o.ProfileCacheTTL <= 0 {
		o.ProfileCacheTTL = 6 * time.Hour
	}
	if o.InsightCacheTTL <= 0 {
		o.InsightCacheTTL = 10 * time.Minute
	}
	return o
}

// Deps are the collaborators of the pipeline. Cache, Avatars, Notifier and
// Metrics are optional.
type Deps struct {
	Stores   Stores
	Gateway  Gateway
	LLM      llm.Client
	Cache    Cache
	Avatars  AvatarStore
	Notifier Notifier
	Metrics  *metrics.Metrics
}

type Services struct {
	Resolver *ResolverService
	Ingest   *IngestService
	Queue    *QueueService
	Worker   *WorkerService
	Insight  *InsightService
	Tokens   *TokenService
	Options  Options
}

func NewServices(deps Deps, opts Options, jwtSecret string) *Services {
	opts = opts.withDefaults()
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}

	queue := &QueueService{
		stores:      deps.Stores,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		maxAttempts: opts.MaxAttempts,
		lease:       opts.Lease,
	}
	resolver := &ResolverService{
		stores:     deps.Stores,
		gw:         deps.Gateway,
		cache:      deps.Cache,
		avatars:    deps.Avatars,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		profileTTL: opts.ProfileCacheTTL,
	}
	insight := &InsightService{
		stores: deps.Stores,
		cache:  deps.Cache,
		ttl:    opts.InsightCacheTTL,
	}

	return &Services{
		Resolver: resolver,
		Ingest: &IngestService{
			stores:   deps.Stores,
			gw:       deps.Gateway,
			resolver: resolver,
			queue:    queue,
			notifier: deps.Notifier,
			metrics:  deps.Metrics,
			opts:     opts,
		},
		Queue: queue,
		Worker: &WorkerService{
			stores:   deps.Stores,
			llm:      deps.LLM,
			queue:    queue,
			insight:  insight,
			notifier: deps.Notifier,
			metrics:  deps.Metrics,
			opts:     opts,
		},
		Insight: insight,
		Tokens:  NewTokenService(jwtSecret),
		Options: opts,
	}
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, interface{}) {}
