// Package quizsync keeps an editor's working copy of a quiz in step with the
// experiment store.
//
// The editor adopts the stored quiz only when the stored quiz version differs
// from the version it last synced against. Manual edits are written back with
// a compare-and-swap on that version, so an edit made against an outdated
// generation is rejected and the editor switches to the fresh quiz instead of
// overwriting it.
package quizsync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
)

type QuizStore interface {
	Get(id string) (domain.Experiment, error)
	Update(id string, patch domain.ContentPatch) (domain.Experiment, error)
}

type Field string

const (
	FieldQuestion      Field = "question"
	FieldOptions       Field = "options"
	FieldCorrectAnswer Field = "correctAnswer"
	FieldDifficulty    Field = "difficulty"
)

type Editor struct {
	mu           sync.Mutex
	store        QuizStore
	experimentID string

	questions     []domain.QuizQuestion
	syncedVersion int
	highestID     int
}

// NewEditor opens an editor on the experiment's current quiz.
func NewEditor(store QuizStore, experimentID string) (*Editor, error) {
	exp, err := store.Get(experimentID)
	if err != nil {
		return nil, err
	}
	e := &Editor{store: store, experimentID: experimentID}
	e.adopt(exp)
	return e, nil
}

func (e *Editor) ExperimentID() string { return e.experimentID }

// Sync adopts the stored quiz when its version moved since the last sync and
// reports whether it did. Content changes without a version change are
// ignored.
func (e *Editor) Sync() (domain.QuizData, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exp, err := e.store.Get(e.experimentID)
	if err != nil {
		return e.viewLocked(), false, err
	}
	if exp.QuizVersion == e.syncedVersion {
		return e.viewLocked(), false, nil
	}
	e.adopt(exp)
	return e.viewLocked(), true, nil
}

func (e *Editor) View() domain.QuizData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Editor) SyncedVersion() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncedVersion
}

// SetQuestionField edits one field of question id. FieldOptions takes a
// []string of exactly four entries, every other field a string.
func (e *Editor) SetQuestionField(id int, field Field, value any) (domain.QuizData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return e.viewLocked(), domain.NotFound("question", fmt.Sprint(id))
	}

	updated := e.cloneQuestions()
	q := &updated[idx]

	switch field {
	case FieldQuestion, FieldCorrectAnswer, FieldDifficulty:
		s, ok := value.(string)
		if !ok {
			return e.viewLocked(), domain.NewValidationError(string(field), "expected a string")
		}
		switch field {
		case FieldQuestion:
			q.Question = s
		case FieldCorrectAnswer:
			q.CorrectAnswer = s
		default:
			d, err := domain.ParseDifficulty(s)
			if err != nil {
				return e.viewLocked(), err
			}
			q.Difficulty = d
		}
	case FieldOptions:
		opts, ok := value.([]string)
		if !ok || len(opts) != domain.OptionsPerQuestion {
			return e.viewLocked(), domain.NewValidationError(string(field), fmt.Sprintf("expected %d options", domain.OptionsPerQuestion))
		}
		q.Options = append([]string(nil), opts...)
	default:
		return e.viewLocked(), domain.NewValidationError("field", fmt.Sprintf("unknown field %q", field))
	}

	return e.commit(updated)
}

// SetOption replaces a single answer option by index.
func (e *Editor) SetOption(id, index int, value string) (domain.QuizData, error) {
	e.mu.Lock()
	idx := e.indexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return e.View(), domain.NotFound("question", fmt.Sprint(id))
	}
	opts := make([]string, domain.OptionsPerQuestion)
	copy(opts, e.questions[idx].Options)
	e.mu.Unlock()

	if index < 0 || index >= domain.OptionsPerQuestion {
		return e.View(), domain.NewValidationError("index", fmt.Sprintf("option index %d out of range", index))
	}
	opts[index] = value
	return e.SetQuestionField(id, FieldOptions, opts)
}

// AddQuestion appends a blank EASY question and returns its id.
func (e *Editor) AddQuestion() (domain.QuizData, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.highestID + 1
	updated := append(e.cloneQuestions(), domain.BlankQuestion(id))

	quiz, err := e.commit(updated)
	if err != nil {
		return quiz, 0, err
	}
	e.highestID = id
	return quiz, id, nil
}

func (e *Editor) RemoveQuestion(id int) (domain.QuizData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.indexOf(id) < 0 {
		return e.viewLocked(), domain.NotFound("question", fmt.Sprint(id))
	}

	updated := make([]domain.QuizQuestion, 0, len(e.questions))
	for _, q := range e.questions {
		if q.ID != id {
			updated = append(updated, q.Clone())
		}
	}
	return e.commit(updated)
}

// commit writes the full quiz back only if no fresh generation landed since
// the last sync. It never bumps the version.
func (e *Editor) commit(updated []domain.QuizQuestion) (domain.QuizData, error) {
	quiz := domain.NewQuizData(updated)
	expected := e.syncedVersion

	exp, err := e.store.Update(e.experimentID, domain.ContentPatch{
		Quiz:              &quiz,
		ExpectQuizVersion: &expected,
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		e.adopt(exp)
		return e.viewLocked(), err
	}
	if err != nil {
		return e.viewLocked(), err
	}

	e.questions = quiz.Questions
	return e.viewLocked(), nil
}

func (e *Editor) adopt(exp domain.Experiment) {
	fresh := exp.Content.Quiz.Clone()
	e.questions = fresh.Questions
	e.syncedVersion = exp.QuizVersion
	e.highestID = fresh.MaxQuestionID()
}

func (e *Editor) viewLocked() domain.QuizData {
	return domain.NewQuizData(e.questions)
}

func (e *Editor) cloneQuestions() []domain.QuizQuestion {
	out := make([]domain.QuizQuestion, len(e.questions))
	for i, q := range e.questions {
		out[i] = q.Clone()
	}
	return out
}

func (e *Editor) indexOf(id int) int {
	for i, q := range e.questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}
