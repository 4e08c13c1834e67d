// Package orchestrator turns source text into experiment content: it asks
// the quiz and text generators in parallel, merges both answers into the
// store in one step and later marks the illustration as ready.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/metrics"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

const (
	DefaultIllustrationDelay = 30 * time.Second
	DefaultMediaRef          = "/media/manim_video.mp4"

	stageQuiz = "quiz"
	stageText = "text"
)

var ErrClosed = errors.New("orchestrator closed")

type QuizGenerator interface {
	GenerateQuiz(ctx context.Context, topic string) (domain.QuizData, error)
}

type ContentGenerator interface {
	GenerateContent(ctx context.Context, text string) (domain.GeneratedText, error)
}

type Options struct {
	IllustrationDelay time.Duration
	MediaRef          string
	// Timeout bounds both generation requests of one run. Zero means none.
	Timeout time.Duration
}

type Orchestrator struct {
	store   *storage.Store
	quiz    QuizGenerator
	content ContentGenerator
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	scopes  map[string]*scope
	running map[string]int
	closed  bool
	wg      sync.WaitGroup
}

// scope lives as long as the experiment does. Cancelling it aborts the
// in-flight generation requests and the pending illustration timer.
type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

type run struct {
	id      string
	text    string
	seq     uint64
	scope   *scope
	started time.Time
}

func New(store *storage.Store, quiz QuizGenerator, content ContentGenerator, opts Options, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.IllustrationDelay <= 0 {
		opts.IllustrationDelay = DefaultIllustrationDelay
	}
	if strings.TrimSpace(opts.MediaRef) == "" {
		opts.MediaRef = DefaultMediaRef
	}
	if log == nil {
		log = logger.Nop()
	}

	o := &Orchestrator{
		store:   store,
		quiz:    quiz,
		content: content,
		opts:    opts,
		log:     log.With("component", "orchestrator"),
		metrics: m,
		scopes:  map[string]*scope{},
		running: map[string]int{},
	}
	store.OnDelete(o.forget)
	return o
}

// Generate runs a generation for id and returns once the result is merged.
// Blank source text is a no-op.
func (o *Orchestrator) Generate(ctx context.Context, id, sourceText string) error {
	r, err := o.begin(id, sourceText)
	if err != nil || r == nil {
		return err
	}
	return o.execute(ctx, r)
}

// Start is the fire-and-forget form of Generate. Errors that happen before
// the requests are issued (unknown experiment, closed orchestrator) are
// returned; everything after is logged.
func (o *Orchestrator) Start(id, sourceText string) error {
	r, err := o.begin(id, sourceText)
	if err != nil || r == nil {
		return err
	}
	go func() {
		_ = o.execute(context.Background(), r)
	}()
	return nil
}

// InProgress reports whether a generation for id has started and not yet
// been merged. The delayed illustration does not count.
func (o *Orchestrator) InProgress(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[id] > 0
}

// Wait blocks until every started run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels every scope. Later calls to Start and Generate fail with
// ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	for id, sc := range o.scopes {
		sc.stop()
		delete(o.scopes, id)
	}
}

func (o *Orchestrator) begin(id, sourceText string) (*run, error) {
	text := strings.TrimSpace(sourceText)
	if text == "" {
		o.log.Debug("generation skipped: empty source text", "experiment", id)
		return nil, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}

	seq, err := o.store.BeginGeneration(id)
	if err != nil {
		return nil, err
	}

	sc, ok := o.scopes[id]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sc = &scope{ctx: ctx, cancel: cancel}
		o.scopes[id] = sc
	}
	// a newer run owns the illustration now
	sc.stopTimer()

	o.running[id]++
	o.wg.Add(1)

	o.log.Info("generation started", "experiment", id, "sequence", seq)
	return &run{id: id, text: text, seq: seq, scope: sc, started: time.Now()}, nil
}

func (o *Orchestrator) execute(parent context.Context, r *run) error {
	defer o.finish(r)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(r.scope.ctx, cancel)
	defer stop()

	if o.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancelTimeout()
	}

	var (
		quiz    domain.QuizData
		text    domain.GeneratedText
		quizErr error
		textErr error
	)

	// Stages fall back independently, so neither returns its error to the
	// group.
	var g errgroup.Group
	g.Go(func() error {
		quiz, quizErr = o.quiz.GenerateQuiz(ctx, r.text)
		return nil
	})
	g.Go(func() error {
		text, textErr = o.content.GenerateContent(ctx, r.text)
		return nil
	})
	_ = g.Wait()

	if r.scope.ctx.Err() != nil || parent.Err() != nil {
		o.store.AbandonGeneration(r.id, r.seq)
		o.metrics.ObserveGeneration("cancelled", time.Since(r.started))
		o.log.Info("generation cancelled", "experiment", r.id, "sequence", r.seq)
		if err := parent.Err(); err != nil {
			return err
		}
		return fmt.Errorf("experiment %s: %w", r.id, context.Canceled)
	}

	var failures []string
	if quizErr != nil {
		quiz = domain.EmptyQuiz()
		failures = append(failures, o.stageFailed(r, stageQuiz, quizErr))
	} else {
		quiz = domain.NormalizeQuiz(quiz)
	}
	if textErr != nil {
		text = domain.GeneratedText{}
		failures = append(failures, o.stageFailed(r, stageText, textErr))
	}

	pending := domain.PendingIllustration()
	patch := domain.ContentPatch{
		Aim:          &text.Aim,
		Introduction: &text.Introduction,
		Article:      &text.Article,
		Illustration: &pending,
		Quiz:         &quiz,
	}

	exp, err := o.store.ApplyGeneration(r.id, r.seq, patch, failures)
	switch {
	case errors.Is(err, domain.ErrStaleGeneration):
		o.metrics.ObserveGeneration("superseded", time.Since(r.started))
		o.log.Info("generation superseded, result dropped", "experiment", r.id, "sequence", r.seq)
		return err
	case errors.Is(err, domain.ErrNotFound):
		o.metrics.ObserveGeneration("dropped", time.Since(r.started))
		o.log.Info("experiment deleted during generation", "experiment", r.id)
		return err
	case err != nil:
		o.store.AbandonGeneration(r.id, r.seq)
		o.metrics.ObserveGeneration("error", time.Since(r.started))
		o.log.Error("merge generation result", "experiment", r.id, "error", err)
		return err
	}

	o.armIllustration(r)

	outcome := "ok"
	if len(failures) > 0 {
		outcome = "degraded"
	}
	o.metrics.ObserveGeneration(outcome, time.Since(r.started))
	o.log.Info("generation merged",
		"experiment", r.id,
		"sequence", r.seq,
		"quizVersion", exp.QuizVersion,
		"questions", exp.Content.Quiz.TotalQuestions,
		"failures", len(failures),
	)
	return nil
}

func (o *Orchestrator) stageFailed(r *run, stage string, err error) string {
	o.metrics.StageFailed(stage)
	o.log.Warn("generation stage failed, using empty result", "experiment", r.id, "stage", stage, "error", err)
	return fmt.Sprintf("%s: %v", stage, err)
}

func (o *Orchestrator) finish(r *run) {
	o.mu.Lock()
	o.running[r.id]--
	if o.running[r.id] <= 0 {
		delete(o.running, r.id)
	}
	o.mu.Unlock()
	o.wg.Done()
}

func (o *Orchestrator) armIllustration(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sc, ok := o.scopes[r.id]
	if !ok || sc != r.scope || sc.ctx.Err() != nil {
		return
	}
	sc.stopTimer()
	sc.timer = time.AfterFunc(o.opts.IllustrationDelay, func() {
		o.completeIllustration(r)
	})
}

func (o *Orchestrator) completeIllustration(r *run) {
	if r.scope.ctx.Err() != nil {
		o.metrics.IllustrationDone("cancelled")
		return
	}

	err := o.store.CompleteIllustration(r.id, r.seq, o.opts.MediaRef)
	switch {
	case err == nil:
		o.metrics.IllustrationDone("ready")
		o.log.Info("illustration ready", "experiment", r.id, "ref", o.opts.MediaRef)
	case errors.Is(err, domain.ErrNotFound):
		o.metrics.IllustrationDone("dropped")
		o.log.Debug("illustration skipped, experiment gone", "experiment", r.id)
	case errors.Is(err, domain.ErrStaleGeneration):
		o.metrics.IllustrationDone("superseded")
		o.log.Debug("illustration skipped, newer generation", "experiment", r.id, "sequence", r.seq)
	default:
		o.metrics.IllustrationDone("error")
		o.log.Warn("complete illustration", "experiment", r.id, "error", err)
	}
}

// forget is the store's delete hook.
func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sc, ok := o.scopes[id]; ok {
		sc.stop()
		delete(o.scopes, id)
	}
}

func (s *scope) stop() {
	s.cancel()
	s.stopTimer()
}

func (s *scope) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
