package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

func ParseDifficulty(raw string) (Difficulty, error) {
	switch d := Difficulty(strings.ToUpper(strings.TrimSpace(raw))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", NewValidationError("difficulty", fmt.Sprintf("unknown difficulty %q", raw))
	}
}

// OptionsPerQuestion is the fixed number of answer options on a question.
const OptionsPerQuestion = 4

type QuizQuestion struct {
	ID            int        `json:"id"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer string     `json:"correctAnswer"`
	Difficulty    Difficulty `json:"difficulty"`
}

type QuizData struct {
	TotalQuestions int            `json:"totalQuestions"`
	Questions      []QuizQuestion `json:"questions"`
}

// NewQuizData copies questions and derives TotalQuestions from them. All quiz
// mutations go through here so the count can never go stale.
func NewQuizData(questions []QuizQuestion) QuizData {
	out := make([]QuizQuestion, len(questions))
	for i, q := range questions {
		out[i] = q.Clone()
	}
	return QuizData{TotalQuestions: len(out), Questions: out}
}

func EmptyQuiz() QuizData {
	return NewQuizData(nil)
}

func (q QuizData) Clone() QuizData {
	return NewQuizData(q.Questions)
}

func (q QuizData) MaxQuestionID() int {
	highest := 0
	for _, question := range q.Questions {
		if question.ID > highest {
			highest = question.ID
		}
	}
	return highest
}

// NormalizeQuiz repairs a quiz produced outside the editor. Duplicate or
// non-positive ids are renumbered past the current maximum in order of
// appearance, options are padded or cut to OptionsPerQuestion, and an
// unknown difficulty becomes MEDIUM.
func NormalizeQuiz(q QuizData) QuizData {
	next := q.MaxQuestionID()
	seen := make(map[int]struct{}, len(q.Questions))
	out := make([]QuizQuestion, 0, len(q.Questions))
	for _, question := range q.Questions {
		question = question.Clone()
		if _, dup := seen[question.ID]; dup || question.ID <= 0 {
			next++
			question.ID = next
		}
		seen[question.ID] = struct{}{}

		for len(question.Options) < OptionsPerQuestion {
			question.Options = append(question.Options, "")
		}
		question.Options = question.Options[:OptionsPerQuestion]

		if d, err := ParseDifficulty(string(question.Difficulty)); err == nil {
			question.Difficulty = d
		} else {
			question.Difficulty = DifficultyMedium
		}
		out = append(out, question)
	}
	return NewQuizData(out)
}

// Validate rejects a client-supplied quiz that breaks the question rules
// instead of repairing it.
func (q QuizData) Validate() error {
	seen := make(map[int]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if question.ID <= 0 {
			return NewValidationError("quiz", fmt.Sprintf("question id %d must be positive", question.ID))
		}
		if _, dup := seen[question.ID]; dup {
			return NewValidationError("quiz", fmt.Sprintf("duplicate question id %d", question.ID))
		}
		seen[question.ID] = struct{}{}
		if len(question.Options) != OptionsPerQuestion {
			return NewValidationError("quiz", fmt.Sprintf("question %d must have exactly %d options", question.ID, OptionsPerQuestion))
		}
		if _, err := ParseDifficulty(string(question.Difficulty)); err != nil {
			return err
		}
	}
	return nil
}

func (q QuizQuestion) Clone() QuizQuestion {
	q.Options = append([]string(nil), q.Options...)
	return q
}

// BlankQuestion is what the editor inserts on "add question".
func BlankQuestion(id int) QuizQuestion {
	return QuizQuestion{
		ID:         id,
		Options:    make([]string, OptionsPerQuestion),
		Difficulty: DifficultyEasy,
	}
}

type IllustrationState string

const (
	IllustrationNotStarted IllustrationState = "not_started"
	IllustrationPending    IllustrationState = "pending"
	IllustrationReady      IllustrationState = "ready"
)

// LegacyPendingIllustration is the string older clients use to mean "pending".
const LegacyPendingIllustration = "Generating video..."

type Illustration struct {
	State IllustrationState `json:"state"`
	Ref   string            `json:"ref,omitempty"`
}

func PendingIllustration() Illustration {
	return Illustration{State: IllustrationPending}
}

func ReadyIllustration(ref string) Illustration {
	return Illustration{State: IllustrationReady, Ref: ref}
}

// ParseIllustration maps the legacy three-way string encoding onto the
// tagged state.
func ParseIllustration(raw string) Illustration {
	switch raw {
	case "":
		return Illustration{State: IllustrationNotStarted}
	case LegacyPendingIllustration:
		return PendingIllustration()
	default:
		return ReadyIllustration(raw)
	}
}

func (i Illustration) Legacy() string {
	switch i.state() {
	case IllustrationPending:
		return LegacyPendingIllustration
	case IllustrationReady:
		return i.Ref
	default:
		return ""
	}
}

func (i Illustration) state() IllustrationState {
	if i.State == "" {
		return IllustrationNotStarted
	}
	return i.State
}

func (i Illustration) MarshalJSON() ([]byte, error) {
	type wire Illustration
	i.State = i.state()
	return json.Marshal(wire(i))
}

// UnmarshalJSON accepts both the tagged object and the legacy string.
func (i *Illustration) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		*i = ParseIllustration(legacy)
		return nil
	}

	type wire Illustration
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.State {
	case "", IllustrationNotStarted:
		*i = Illustration{State: IllustrationNotStarted}
	case IllustrationPending:
		*i = PendingIllustration()
	case IllustrationReady:
		*i = ReadyIllustration(w.Ref)
	default:
		return fmt.Errorf("unknown illustration state %q", w.State)
	}
	return nil
}

type ExperimentContent struct {
	Aim          string       `json:"aim"`
	Introduction string       `json:"introduction"`
	Article      string       `json:"article"`
	Illustration Illustration `json:"illustration"`
	Quiz         QuizData     `json:"quiz"`
}

func EmptyContent() ExperimentContent {
	return ExperimentContent{
		Illustration: Illustration{State: IllustrationNotStarted},
		Quiz:         EmptyQuiz(),
	}
}

func (c ExperimentContent) Clone() ExperimentContent {
	c.Quiz = c.Quiz.Clone()
	return c
}

type GenerationStatus struct {
	Sequence    uint64   `json:"sequence"`
	StartedAt   int64    `json:"startedAt"`
	CompletedAt int64    `json:"completedAt,omitempty"`
	Failures    []string `json:"failures,omitempty"`
}

type Experiment struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Content        ExperimentContent `json:"content"`
	QuizVersion    int               `json:"quizVersion"`
	Generating     bool              `json:"generating"`
	LastGeneration *GenerationStatus `json:"lastGeneration,omitempty"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
}

func (e Experiment) Clone() Experiment {
	e.Content = e.Content.Clone()
	if e.LastGeneration != nil {
		status := *e.LastGeneration
		status.Failures = append([]string(nil), status.Failures...)
		e.LastGeneration = &status
	}
	return e
}

// ContentPatch carries replacement values; nil fields are left untouched.
type ContentPatch struct {
	Aim          *string       `json:"aim,omitempty"`
	Introduction *string       `json:"introduction,omitempty"`
	Article      *string       `json:"article,omitempty"`
	Illustration *Illustration `json:"illustration,omitempty"`
	Quiz         *QuizData     `json:"quiz,omitempty"`

	// ExpectQuizVersion turns the update into a compare-and-swap against the
	// stored quiz version.
	ExpectQuizVersion *int `json:"-"`
}

func (p ContentPatch) Empty() bool {
	return p.Aim == nil && p.Introduction == nil && p.Article == nil && p.Illustration == nil && p.Quiz == nil
}

// Apply merges the patch into c and returns the result.
func (p ContentPatch) Apply(c ExperimentContent) ExperimentContent {
	if p.Aim != nil {
		c.Aim = *p.Aim
	}
	if p.Introduction != nil {
		c.Introduction = *p.Introduction
	}
	if p.Article != nil {
		c.Article = *p.Article
	}
	if p.Illustration != nil {
		c.Illustration = *p.Illustration
	}
	if p.Quiz != nil {
		c.Quiz = NewQuizData(p.Quiz.Questions)
	}
	return c
}

type GeneratedText struct {
	Aim          string `json:"aim"`
	Introduction string `json:"introduction"`
	Article      string `json:"article"`
}

type User struct {
	ID           string `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	CreatedAt    int64  `json:"createdAt"`
}
