// Package tasks runs the periodic maintenance passes: summarizing idle or
// ended conversations, archiving old ones, and re-analyzing recent history.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/metrics"
	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
	"github.com/kalambet/chatty/internal/summarize"
)

const (
	Summarize       = "summarize"
	Cleanup         = "cleanup"
	AnalyzePatterns = "analyze_patterns"
)

const minSummaryMessages = 2

var (
	// ErrUnknownTask is returned by RunOnce for names outside Names().
	ErrUnknownTask = errors.New("unknown task")
	// ErrAlreadyRunning is returned when a task is triggered while a previous
	// run of it is still in progress.
	ErrAlreadyRunning = errors.New("task already running")
)

// Names lists the tasks in the order they are scheduled.
func Names() []string {
	return []string{Summarize, Cleanup, AnalyzePatterns}
}

// Store is the subset of storage.Store the passes use.
type Store interface {
	SummarizationCandidates(idleSince time.Time) ([]storage.Conversation, error)
	ArchiveCandidates(cutoff time.Time) ([]storage.Conversation, error)
	ListMessages(conversationID int64) ([]storage.Message, error)
	SetSummary(id int64, summary string) error
	MergeConversationMetadata(id int64, patch map[string]any) error
	EnqueueIndex(conversationID int64) (string, error)
}

// Analyzer runs the intelligence pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, conversationID int64) (intelligence.Analysis, error)
	AnalyzeRecent(ctx context.Context, limit int) (int, error)
}

// GeneratorFunc returns the Generator used for summaries.
type GeneratorFunc func(ctx context.Context) (provider.Generator, error)

// Config holds cron specs and pass thresholds.
type Config struct {
	SummarizeSchedule string
	CleanupSchedule   string
	AnalyzeSchedule   string
	Inactivity        time.Duration
	ArchiveAfter      time.Duration
	AnalyzeLimit      int
}

func DefaultConfig() Config {
	return Config{
		SummarizeSchedule: "@every 30m",
		CleanupSchedule:   "0 2 * * *",
		AnalyzeSchedule:   "@every 2h",
		Inactivity:        30 * time.Minute,
		ArchiveAfter:      90 * 24 * time.Hour,
		AnalyzeLimit:      20,
	}
}

// Result counts what one pass did.
type Result struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Runner owns the schedules. Each task is either idle or running; an
// overlapping trigger of a running task is skipped.
type Runner struct {
	store     Store
	generator GeneratorFunc
	analyzer  Analyzer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner creates a Runner. Zero fields of cfg take DefaultConfig values.
func NewRunner(store Store, generator GeneratorFunc, analyzer Analyzer, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.SummarizeSchedule == "" {
		cfg.SummarizeSchedule = def.SummarizeSchedule
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = def.CleanupSchedule
	}
	if cfg.AnalyzeSchedule == "" {
		cfg.AnalyzeSchedule = def.AnalyzeSchedule
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = def.Inactivity
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = def.ArchiveAfter
	}
	if cfg.AnalyzeLimit <= 0 {
		cfg.AnalyzeLimit = def.AnalyzeLimit
	}
	return &Runner{
		store:     store,
		generator: generator,
		analyzer:  analyzer,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		running:   make(map[string]bool),
	}
}

// Run schedules every task and blocks until ctx is cancelled. Runs in
// progress are waited for before it returns.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	schedules := map[string]string{
		Summarize:       r.cfg.SummarizeSchedule,
		Cleanup:         r.cfg.CleanupSchedule,
		AnalyzePatterns: r.cfg.AnalyzeSchedule,
	}
	for _, name := range Names() {
		name := name
		if _, err := c.AddFunc(schedules[name], func() { r.trigger(ctx, name) }); err != nil {
			return fmt.Errorf("scheduling %s %q: %w", name, schedules[name], err)
		}
	}

	c.Start()
	r.logger.Info("task runner started",
		"summarize", r.cfg.SummarizeSchedule,
		"cleanup", r.cfg.CleanupSchedule,
		"analyze", r.cfg.AnalyzeSchedule,
	)
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("task runner stopped")
	return nil
}

func (r *Runner) trigger(ctx context.Context, name string) {
	res, err := r.RunOnce(ctx, name)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		r.logger.Debug("skipping overlapping run", "task", name)
	case err != nil:
		r.logger.Error("task failed", "task", name, "error", err)
	default:
		r.logger.Info("task finished", "task", name,
			"processed", res.Processed, "skipped", res.Skipped, "failed", res.Failed)
	}
}

// RunOnce runs one pass of the named task synchronously.
func (r *Runner) RunOnce(ctx context.Context, name string) (Result, error) {
	var pass func(context.Context) (Result, error)
	switch name {
	case Summarize:
		pass = r.summarize
	case Cleanup:
		pass = r.cleanup
	case AnalyzePatterns:
		pass = r.analyzePatterns
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	if !r.acquire(name) {
		return Result{}, ErrAlreadyRunning
	}
	defer r.release(name)

	res, err := pass(ctx)
	metrics.RecordTaskRun(name, err)
	return res, err
}

// Running reports whether the named task is in progress.
func (r *Runner) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[name]
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	delete(r.running, name)
	r.mu.Unlock()
}

// summarize handles unsummarized conversations that are ended or idle.
// A failure on one conversation is logged and the batch continues.
func (r *Runner) summarize(ctx context.Context) (Result, error) {
	var res Result
	now := r.now()
	convs, err := r.store.SummarizationCandidates(now.Add(-r.cfg.Inactivity))
	if err != nil {
		return res, fmt.Errorf("selecting conversations: %w", err)
	}
	if len(convs) == 0 {
		return res, nil
	}

	gen, err := r.generator(ctx)
	if err != nil {
		return res, fmt.Errorf("resolving provider: %w", err)
	}
	sum := summarize.New(gen)

	for _, c := range convs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		msgs, err := r.store.ListMessages(c.ID)
		if err != nil {
			r.fail(&res, Summarize, c.ID, err)
			continue
		}
		if len(msgs) < minSummaryMessages {
			res.Skipped++
			metrics.RecordTaskItem(Summarize, "skipped")
			continue
		}
		if err := r.summarizeOne(ctx, sum, c, msgs); err != nil {
			r.fail(&res, Summarize, c.ID, err)
			continue
		}
		res.Processed++
		metrics.RecordTaskItem(Summarize, "processed")
	}
	return res, nil
}

func (r *Runner) summarizeOne(ctx context.Context, sum *summarize.Summarizer, c storage.Conversation, msgs []storage.Message) error {
	summary, err := sum.Summary(ctx, msgs)
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}
	topics, err := sum.Topics(ctx, msgs)
	if err != nil {
		return fmt.Errorf("extracting topics: %w", err)
	}

	now := r.now()
	if err := r.store.SetSummary(c.ID, summary); err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	if err := r.store.MergeConversationMetadata(c.ID, map[string]any{
		"topics":           topics,
		"message_count":    len(msgs),
		"duration_seconds": int64(c.Duration(now).Seconds()),
		"auto_summarized":  true,
		"summarized_at":    now.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}

	if _, err := r.analyzer.Analyze(ctx, c.ID); err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	if _, err := r.store.EnqueueIndex(c.ID); err != nil {
		return fmt.Errorf("queueing index job: %w", err)
	}
	return nil
}

// cleanup flags old ended conversations as archived. Rows are never deleted.
func (r *Runner) cleanup(ctx context.Context) (Result, error) {
	var res Result
	now := r.now()
	convs, err := r.store.ArchiveCandidates(now.Add(-r.cfg.ArchiveAfter))
	if err != nil {
		return res, fmt.Errorf("selecting conversations: %w", err)
	}
	for _, c := range convs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := r.store.MergeConversationMetadata(c.ID, map[string]any{
			"archived":    true,
			"archived_at": now.Format(time.RFC3339),
		})
		if err != nil {
			r.fail(&res, Cleanup, c.ID, err)
			continue
		}
		res.Processed++
		metrics.RecordTaskItem(Cleanup, "processed")
	}
	return res, nil
}

func (r *Runner) analyzePatterns(ctx context.Context) (Result, error) {
	n, err := r.analyzer.AnalyzeRecent(ctx, r.cfg.AnalyzeLimit)
	if err != nil {
		return Result{}, fmt.Errorf("analyzing recent conversations: %w", err)
	}
	metrics.TaskItemsTotal.WithLabelValues(AnalyzePatterns, "processed").Add(float64(n))
	return Result{Processed: n}, nil
}

func (r *Runner) fail(res *Result, task string, id int64, err error) {
	res.Failed++
	metrics.RecordTaskItem(task, "failed")
	r.logger.Warn("task item failed", "task", task, "conversation_id", id, "error", err)
}
