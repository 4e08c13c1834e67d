package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
)

const (
	StageQuiz = "quiz"
	StageText = "text"
)

// RemoteQuizService calls an external quiz generator:
// GET {endpoint}?topic=... -> {totalQuestions, questions} or {"error": ...}.
type RemoteQuizService struct {
	endpoint   string
	httpClient *http.Client
}

func NewRemoteQuizService(endpoint string, timeout time.Duration) *RemoteQuizService {
	return &RemoteQuizService{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

func (s *RemoteQuizService) GenerateQuiz(ctx context.Context, topic string) (domain.QuizData, error) {
	body, err := getJSON(ctx, s.httpClient, s.endpoint, "topic", topic)
	if err != nil {
		return domain.QuizData{}, &domain.GenerationFailure{Stage: StageQuiz, Err: err}
	}

	var payload struct {
		Error     string                `json:"error"`
		Questions []domain.QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.QuizData{}, &domain.GenerationFailure{Stage: StageQuiz, Err: fmt.Errorf("decode quiz: %w", err)}
	}
	if payload.Error != "" {
		return domain.QuizData{}, &domain.GenerationFailure{Stage: StageQuiz, Err: errors.New(payload.Error)}
	}

	// totalQuestions from the wire is ignored; the count is derived.
	return domain.NormalizeQuiz(domain.QuizData{Questions: payload.Questions}), nil
}

// RemoteContentService calls an external experiment text generator:
// GET {endpoint}?text=... -> {aim, introduction, article} or {"error": ...}.
type RemoteContentService struct {
	endpoint   string
	httpClient *http.Client
}

func NewRemoteContentService(endpoint string, timeout time.Duration) *RemoteContentService {
	return &RemoteContentService{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

func (s *RemoteContentService) GenerateContent(ctx context.Context, text string) (domain.GeneratedText, error) {
	body, err := getJSON(ctx, s.httpClient, s.endpoint, "text", text)
	if err != nil {
		return domain.GeneratedText{}, &domain.GenerationFailure{Stage: StageText, Err: err}
	}

	var payload struct {
		Error string `json:"error"`
		domain.GeneratedText
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.GeneratedText{}, &domain.GenerationFailure{Stage: StageText, Err: fmt.Errorf("decode content: %w", err)}
	}
	if payload.Error != "" {
		return domain.GeneratedText{}, &domain.GenerationFailure{Stage: StageText, Err: errors.New(payload.Error)}
	}
	return payload.GeneratedText, nil
}

// getJSON returns the body of a successful GET. Error-flag payloads sent with
// a 4xx status are returned as a body too, so callers surface their message.
func getJSON(ctx context.Context, client *http.Client, endpoint, param, value string) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode >= http.StatusBadRequest && !strings.Contains(string(body), `"error"`) {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return body, nil
}
