package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/metrics"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/quizsync"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

type quizFunc func(ctx context.Context, topic string) (domain.QuizData, error)

func (f quizFunc) GenerateQuiz(ctx context.Context, topic string) (domain.QuizData, error) {
	return f(ctx, topic)
}

type contentFunc func(ctx context.Context, text string) (domain.GeneratedText, error)

func (f contentFunc) GenerateContent(ctx context.Context, text string) (domain.GeneratedText, error) {
	return f(ctx, text)
}

func threeQuestions() domain.QuizData {
	return domain.NewQuizData([]domain.QuizQuestion{
		{ID: 1, Question: "Q1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a", Difficulty: domain.DifficultyEasy},
		{ID: 2, Question: "Q2", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "b", Difficulty: domain.DifficultyMedium},
		{ID: 3, Question: "Q3", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "c", Difficulty: domain.DifficultyHard},
	})
}

func okQuiz() quizFunc {
	return func(context.Context, string) (domain.QuizData, error) { return threeQuestions(), nil }
}

func okContent() contentFunc {
	return func(context.Context, string) (domain.GeneratedText, error) {
		return domain.GeneratedText{Aim: "A", Introduction: "I", Article: "Art"}, nil
	}
}

func newOrchestrator(t *testing.T, quiz QuizGenerator, content ContentGenerator, delay time.Duration) (*storage.Store, *Orchestrator) {
	t.Helper()
	store := storage.NewStore()
	o := New(store, quiz, content, Options{IllustrationDelay: delay, MediaRef: "/media/test.mp4"}, logger.Nop(), metrics.New())
	t.Cleanup(func() {
		o.Close()
		o.Wait()
	})
	return store, o
}

func TestGenerateMergesAndCompletesIllustration(t *testing.T) {
	store, o := newOrchestrator(t, okQuiz(), okContent(), 20*time.Millisecond)
	exp := store.Create("E1")

	require.NoError(t, o.Generate(context.Background(), exp.ID, "photosynthesis"))

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Content.Quiz.TotalQuestions)
	require.Equal(t, 1, got.QuizVersion)
	require.Equal(t, "A", got.Content.Aim)
	require.Equal(t, "I", got.Content.Introduction)
	require.Equal(t, "Art", got.Content.Article)
	require.Equal(t, domain.IllustrationPending, got.Content.Illustration.State)
	require.Equal(t, domain.LegacyPendingIllustration, got.Content.Illustration.Legacy())
	require.False(t, got.Generating)
	require.Empty(t, got.LastGeneration.Failures)

	require.Eventually(t, func() bool {
		got, err := store.Get(exp.ID)
		return err == nil && got.Content.Illustration == domain.ReadyIllustration("/media/test.mp4")
	}, 2*time.Second, 5*time.Millisecond)

	got, _ = store.Get(exp.ID)
	require.Equal(t, 1, got.QuizVersion, "illustration completion must not bump the version")
}

func TestReadersSeeQuizAndTextChangeTogether(t *testing.T) {
	slowQuiz := quizFunc(func(context.Context, string) (domain.QuizData, error) {
		time.Sleep(15 * time.Millisecond)
		return threeQuestions(), nil
	})
	slowContent := contentFunc(func(context.Context, string) (domain.GeneratedText, error) {
		time.Sleep(25 * time.Millisecond)
		return domain.GeneratedText{Aim: "A", Introduction: "I", Article: "Art"}, nil
	})
	store, o := newOrchestrator(t, slowQuiz, slowContent, time.Hour)
	exp := store.Create("E1")

	done := make(chan error, 1)
	go func() { done <- o.Generate(context.Background(), exp.ID, "light") }()

	reads := 0
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			require.Positive(t, reads)
			got, err := store.Get(exp.ID)
			require.NoError(t, err)
			require.Equal(t, "A", got.Content.Aim)
			require.Equal(t, 3, got.Content.Quiz.TotalQuestions)
			return
		default:
		}

		got, err := store.Get(exp.ID)
		require.NoError(t, err)
		reads++
		textLanded := got.Content.Aim == "A"
		quizLanded := got.Content.Quiz.TotalQuestions == 3
		require.Equal(t, textLanded, quizLanded, "read %d saw a partial merge", reads)
		require.Equal(t, textLanded, got.QuizVersion == 1)
	}
}

func TestGeneratedQuizIsRepairedBeforeMerge(t *testing.T) {
	duplicated := quizFunc(func(context.Context, string) (domain.QuizData, error) {
		return domain.NewQuizData([]domain.QuizQuestion{
			{ID: 1, Question: "first", Options: []string{"a", "b"}, Difficulty: domain.DifficultyEasy},
			{ID: 1, Question: "second", Options: []string{"a", "b", "c", "d"}, Difficulty: "unknown"},
		}), nil
	})
	store, o := newOrchestrator(t, duplicated, okContent(), time.Hour)
	exp := store.Create("E1")
	require.NoError(t, o.Generate(context.Background(), exp.ID, "light"))

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.NoError(t, got.Content.Quiz.Validate())

	editor, err := quizsync.NewEditor(store, exp.ID)
	require.NoError(t, err)
	quiz, err := editor.RemoveQuestion(1)
	require.NoError(t, err)
	require.Equal(t, 1, quiz.TotalQuestions, "removing one id must leave the other question")
	require.Equal(t, "second", quiz.Questions[0].Question)
	require.Equal(t, 2, quiz.Questions[0].ID)
}

func TestGenerateQuizFailureFallsBackToEmptyQuiz(t *testing.T) {
	failing := quizFunc(func(context.Context, string) (domain.QuizData, error) {
		return domain.QuizData{}, &domain.GenerationFailure{Stage: "quiz", Err: errors.New("Failed to parse JSON")}
	})
	store, o := newOrchestrator(t, failing, okContent(), time.Hour)
	exp := store.Create("E1")

	require.NoError(t, o.Generate(context.Background(), exp.ID, "photosynthesis"))

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.EmptyQuiz(), got.Content.Quiz)
	require.Equal(t, 1, got.QuizVersion)
	require.Equal(t, "A", got.Content.Aim)
	require.Len(t, got.LastGeneration.Failures, 1)
	require.Contains(t, got.LastGeneration.Failures[0], "quiz")
}

func TestGenerateTextFailureFallsBackToEmptyText(t *testing.T) {
	failing := contentFunc(func(context.Context, string) (domain.GeneratedText, error) {
		return domain.GeneratedText{}, errors.New("upstream status 500")
	})
	store, o := newOrchestrator(t, okQuiz(), failing, time.Hour)
	exp := store.Create("E1")

	_, err := store.Update(exp.ID, domain.ContentPatch{Aim: strPtr("old aim")})
	require.NoError(t, err)

	require.NoError(t, o.Generate(context.Background(), exp.ID, "photosynthesis"))

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Equal(t, "", got.Content.Aim)
	require.Equal(t, 3, got.Content.Quiz.TotalQuestions)
	require.Equal(t, 1, got.QuizVersion)
	require.Equal(t, domain.IllustrationPending, got.Content.Illustration.State)
}

func TestEveryGenerationBumpsVersionOnce(t *testing.T) {
	calls := 0
	flaky := quizFunc(func(context.Context, string) (domain.QuizData, error) {
		calls++
		if calls%2 == 0 {
			return domain.QuizData{}, errors.New("flaky")
		}
		return threeQuestions(), nil
	})
	store, o := newOrchestrator(t, flaky, okContent(), time.Hour)
	exp := store.Create("E1")

	for i := 1; i <= 4; i++ {
		require.NoError(t, o.Generate(context.Background(), exp.ID, "topic"))
		got, err := store.Get(exp.ID)
		require.NoError(t, err)
		require.Equal(t, i, got.QuizVersion)
	}
}

func TestGenerateBlankTextIsNoop(t *testing.T) {
	var calls atomic.Int32
	quiz := quizFunc(func(context.Context, string) (domain.QuizData, error) {
		calls.Add(1)
		return threeQuestions(), nil
	})
	store, o := newOrchestrator(t, quiz, okContent(), time.Hour)
	exp := store.Create("E1")

	require.NoError(t, o.Generate(context.Background(), exp.ID, "   \n"))
	require.NoError(t, o.Start(exp.ID, ""))
	o.Wait()

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Zero(t, got.QuizVersion)
	require.Zero(t, calls.Load())
	require.Nil(t, got.LastGeneration)
}

func TestGenerateUnknownExperiment(t *testing.T) {
	_, o := newOrchestrator(t, okQuiz(), okContent(), time.Hour)

	err := o.Start("missing", "text")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.False(t, o.InProgress("missing"))
}

func TestInProgressCoversRequestsAndMergeOnly(t *testing.T) {
	release := make(chan struct{})
	blocking := quizFunc(func(ctx context.Context, _ string) (domain.QuizData, error) {
		<-release
		return threeQuestions(), nil
	})
	store, o := newOrchestrator(t, blocking, okContent(), time.Hour)
	exp := store.Create("E1")

	require.NoError(t, o.Start(exp.ID, "photosynthesis"))
	require.True(t, o.InProgress(exp.ID))

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.True(t, got.Generating)

	close(release)
	o.Wait()

	require.False(t, o.InProgress(exp.ID))
	got, err = store.Get(exp.ID)
	require.NoError(t, err)
	require.False(t, got.Generating)
	// illustration still pending: it is not part of the in-progress window
	require.Equal(t, domain.IllustrationPending, got.Content.Illustration.State)
}

func TestSupersededGenerationIsDropped(t *testing.T) {
	release := make(chan struct{})
	quiz := quizFunc(func(ctx context.Context, topic string) (domain.QuizData, error) {
		if topic == "first" {
			<-release
			return domain.NewQuizData([]domain.QuizQuestion{domain.BlankQuestion(1)}), nil
		}
		return threeQuestions(), nil
	})
	store, o := newOrchestrator(t, quiz, okContent(), time.Hour)
	exp := store.Create("E1")

	firstErr := make(chan error, 1)
	go func() { firstErr <- o.Generate(context.Background(), exp.ID, "first") }()
	require.Eventually(t, func() bool { return o.InProgress(exp.ID) }, time.Second, time.Millisecond)

	require.NoError(t, o.Generate(context.Background(), exp.ID, "second"))
	close(release)
	require.ErrorIs(t, <-firstErr, domain.ErrStaleGeneration)

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.QuizVersion)
	require.Equal(t, 3, got.Content.Quiz.TotalQuestions)
}

func TestDeleteCancelsPendingIllustration(t *testing.T) {
	store, o := newOrchestrator(t, okQuiz(), okContent(), 30*time.Millisecond)
	exp := store.Create("E1")

	require.NoError(t, o.Generate(context.Background(), exp.ID, "photosynthesis"))
	require.NoError(t, store.Delete(exp.ID))

	o.mu.Lock()
	_, tracked := o.scopes[exp.ID]
	o.mu.Unlock()
	require.False(t, tracked)

	time.Sleep(60 * time.Millisecond)
	_, err := store.Get(exp.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteDuringGenerationDropsResult(t *testing.T) {
	started := make(chan struct{})
	quiz := quizFunc(func(ctx context.Context, _ string) (domain.QuizData, error) {
		close(started)
		<-ctx.Done()
		return domain.QuizData{}, ctx.Err()
	})
	store, o := newOrchestrator(t, quiz, okContent(), time.Hour)
	exp := store.Create("E1")

	done := make(chan error, 1)
	go func() { done <- o.Generate(context.Background(), exp.ID, "photosynthesis") }()
	<-started

	require.NoError(t, store.Delete(exp.ID))
	require.ErrorIs(t, <-done, context.Canceled)
	require.Zero(t, store.Len())
}

func TestCloseCancelsInFlightAndRejectsNewRuns(t *testing.T) {
	started := make(chan struct{})
	quiz := quizFunc(func(ctx context.Context, _ string) (domain.QuizData, error) {
		close(started)
		<-ctx.Done()
		return domain.QuizData{}, ctx.Err()
	})
	store, o := newOrchestrator(t, quiz, okContent(), time.Hour)
	exp := store.Create("E1")

	require.NoError(t, o.Start(exp.ID, "photosynthesis"))
	<-started
	o.Close()
	o.Wait()

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Zero(t, got.QuizVersion)
	require.False(t, got.Generating)

	require.ErrorIs(t, o.Start(exp.ID, "again"), ErrClosed)
}

func TestTimeoutDegradesStages(t *testing.T) {
	slow := quizFunc(func(ctx context.Context, _ string) (domain.QuizData, error) {
		<-ctx.Done()
		return domain.QuizData{}, ctx.Err()
	})
	store := storage.NewStore()
	o := New(store, slow, okContent(), Options{IllustrationDelay: time.Hour, Timeout: 20 * time.Millisecond}, nil, nil)
	t.Cleanup(o.Close)
	exp := store.Create("E1")

	require.NoError(t, o.Generate(context.Background(), exp.ID, "photosynthesis"))

	got, err := store.Get(exp.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.QuizVersion)
	require.Equal(t, 0, got.Content.Quiz.TotalQuestions)
	require.Equal(t, "A", got.Content.Aim)
}

func strPtr(s string) *string { return &s }
