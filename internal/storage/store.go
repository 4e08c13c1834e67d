package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
)

// Store is the in-memory experiment store of one workspace. It is the only
// place experiment documents are mutated; every exported method takes the
// lock for its whole duration so each call is observed as a single unit.
type Store struct {
	mu          sync.RWMutex
	experiments map[string]*record
	order       []string
	selected    string
	onDelete    []func(id string)
}

type record struct {
	exp     domain.Experiment
	nextSeq uint64
}

func NewStore() *Store {
	return &Store{experiments: map[string]*record{}}
}

// OnDelete registers a hook run (outside the lock) after an experiment is
// deleted or the store is cleared.
func (s *Store) OnDelete(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, fn)
}

func (s *Store) Create(title string) domain.Experiment {
	s.mu.Lock()
	defer s.mu.Unlock()

	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("Experiment %d", len(s.order)+1)
	}

	now := time.Now().Unix()
	exp := domain.Experiment{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   domain.EmptyContent(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.experiments[exp.ID] = &record{exp: exp}
	s.order = append(s.order, exp.ID)
	s.selected = exp.ID

	return exp.Clone()
}

func (s *Store) Get(id string) (domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.experiments[id]
	if !ok {
		return domain.Experiment{}, domain.NotFound("experiment", id)
	}
	return rec.exp.Clone(), nil
}

func (s *Store) List() []domain.Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Experiment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.experiments[id].exp.Clone())
	}
	return out
}

func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[id]; !ok {
		return domain.NotFound("experiment", id)
	}
	s.selected = id
	return nil
}

// Selected returns the experiment currently open for editing, if any.
func (s *Store) Selected() (domain.Experiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.experiments[s.selected]
	if !ok {
		return domain.Experiment{}, false
	}
	return rec.exp.Clone(), true
}

// Update merges patch into the experiment content field by field. A quiz in
// the patch must pass QuizData.Validate.
func (s *Store) Update(id string, patch domain.ContentPatch) (domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.experiments[id]
	if !ok {
		return domain.Experiment{}, domain.NotFound("experiment", id)
	}

	if patch.ExpectQuizVersion != nil && *patch.ExpectQuizVersion != rec.exp.QuizVersion {
		return rec.exp.Clone(), fmt.Errorf("experiment %s: expected version %d, have %d: %w",
			id, *patch.ExpectQuizVersion, rec.exp.QuizVersion, domain.ErrVersionConflict)
	}

	if patch.Quiz != nil {
		if err := patch.Quiz.Validate(); err != nil {
			return domain.Experiment{}, err
		}
	}

	rec.exp.Content = patch.Apply(rec.exp.Content)
	rec.exp.UpdatedAt = time.Now().Unix()
	return rec.exp.Clone(), nil
}

func (s *Store) BumpQuizVersion(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.experiments[id]
	if !ok {
		return domain.NotFound("experiment", id)
	}
	rec.exp.QuizVersion++
	return nil
}

// BeginGeneration hands out the next generation ticket for id. Only the
// holder of the latest ticket may apply a generation result.
func (s *Store) BeginGeneration(id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.experiments[id]
	if !ok {
		return 0, domain.NotFound("experiment", id)
	}
	rec.nextSeq++
	rec.exp.Generating = true
	rec.exp.LastGeneration = &domain.GenerationStatus{
		Sequence:  rec.nextSeq,
		StartedAt: time.Now().Unix(),
	}
	return rec.nextSeq, nil
}

// CurrentGeneration reports whether seq is still the latest ticket for id.
func (s *Store) CurrentGeneration(id string, seq uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.experiments[id]
	return ok && rec.nextSeq == seq
}

// ApplyGeneration merges a fresh generation result and bumps the quiz
// version in one step.
func (s *Store) ApplyGeneration(id string, seq uint64, patch domain.ContentPatch, failures []string) (domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.experiments[id]
	if !ok {
		return domain.Experiment{}, domain.NotFound("experiment", id)
	}
	if rec.nextSeq != seq {
		return domain.Experiment{}, fmt.Errorf("experiment %s generation %d (latest %d): %w", id, seq, rec.nextSeq, domain.ErrStaleGeneration)
	}

	now := time.Now().Unix()
	rec.exp.Content = patch.Apply(rec.exp.Content)
	rec.exp.QuizVersion++
	rec.exp.Generating = false
	rec.exp.UpdatedAt = now
	if rec.exp.LastGeneration != nil {
		rec.exp.LastGeneration.CompletedAt = now
		rec.exp.LastGeneration.Failures = append([]string(nil), failures...)
	}
	return rec.exp.Clone(), nil
}

// AbandonGeneration clears the generating flag for a run that ended
// without applying a result. Stale tickets are ignored.
func (s *Store) AbandonGeneration(id string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.experiments[id]; ok && rec.nextSeq == seq {
		rec.exp.Generating = false
	}
}

// CompleteIllustration sets the illustration to ready if seq is still the
// latest generation.
func (s *Store) CompleteIllustration(id string, seq uint64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.experiments[id]
	if !ok {
		return domain.NotFound("experiment", id)
	}
	if rec.nextSeq != seq {
		return fmt.Errorf("experiment %s illustration %d (latest %d): %w", id, seq, rec.nextSeq, domain.ErrStaleGeneration)
	}
	rec.exp.Content.Illustration = domain.ReadyIllustration(ref)
	rec.exp.UpdatedAt = time.Now().Unix()
	return nil
}

func (s *Store) Rename(id, title string) (domain.Experiment, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Experiment{}, domain.NewValidationError("title", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.experiments[id]
	if !ok {
		return domain.Experiment{}, domain.NotFound("experiment", id)
	}
	rec.exp.Title = title
	rec.exp.UpdatedAt = time.Now().Unix()
	return rec.exp.Clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.experiments[id]; !ok {
		s.mu.Unlock()
		return domain.NotFound("experiment", id)
	}

	delete(s.experiments, id)
	updated := s.order[:0]
	for _, existing := range s.order {
		if existing != id {
			updated = append(updated, existing)
		}
	}
	s.order = updated
	if s.selected == id {
		s.selected = ""
	}
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(id)
	}
	return nil
}

// Clear drops every experiment; used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.experiments = map[string]*record{}
	s.order = nil
	s.selected = ""
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	for _, id := range ids {
		for _, hook := range hooks {
			hook(id)
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
