package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/config"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
)

const requestTimeout = 2 * time.Minute

const quizSystemPrompt = `You are an API that sends JSON response. Imagine you are also an educator and you are preparing a set of MCQs on the topic %q with a minimum of 10 questions and a maximum of 15 questions.
Each question should have an ID, question text, and options as an array of objects where each option has a key "option" and a value representing the choice.
Include at most 3 HARD questions and keep the rest mostly EASY and MEDIUM. Return the questions and options in the following JSON format without any additional text:
{"questions": [{"id": 1, "question": "Your question here", "options": [{"option": "Option A"}, {"option": "Option B"}, {"option": "Option C"}, {"option": "Option D"}], "answer": "Correct option text", "difficulty": "EASY | MEDIUM | HARD"}]}`

const experimentSystemPrompt = `You are an API that sends JSON response. Imagine you are also an educator and you are preparing an experiment that contains 3 parts: aim, introduction, and a short note on the theory of the experiment.
The aim should be short and concise, 25 words at maximum. The introduction should be brief, giving insight into the experiment, 75 words at maximum.
The article should explain the theory behind the experiment, it should be at least 200 words but can be more depending on the given theory.
Return all three parts in the following JSON format without any additional text:
{"aim": "the aim of your experiment", "introduction": "a brief introduction to the experiment", "article": "theory of the experiment"}`

// OpenAIService generates quizzes and experiment text with an
// OpenAI-compatible chat completions endpoint.
type OpenAIService struct {
	apiKey     string
	endpoint   string
	model      string
	reqTimeout time.Duration
	httpClient *http.Client
}

func NewOpenAIService(cfg config.Config) *OpenAIService {
	return &OpenAIService{
		apiKey:     cfg.OpenAIAPIKey,
		endpoint:   strings.TrimRight(cfg.OpenAIBaseURL, "/") + "/chat/completions",
		model:      cfg.OpenAIModel,
		reqTimeout: requestTimeout,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (s *OpenAIService) GenerateQuiz(ctx context.Context, topic string) (domain.QuizData, error) {
	if strings.TrimSpace(topic) == "" {
		topic = "general knowledge"
	}

	raw, err := s.complete(ctx, fmt.Sprintf(quizSystemPrompt, topic), "Generate MCQs for "+topic)
	if err != nil {
		return domain.QuizData{}, &domain.GenerationFailure{Stage: StageQuiz, Err: err}
	}

	quiz, err := ParseQuizPayload(raw)
	if err != nil {
		return domain.QuizData{}, &domain.GenerationFailure{Stage: StageQuiz, Err: err}
	}
	return quiz, nil
}

func (s *OpenAIService) GenerateContent(ctx context.Context, text string) (domain.GeneratedText, error) {
	if strings.TrimSpace(text) == "" {
		return domain.GeneratedText{}, domain.NewValidationError("text", "missing text")
	}

	raw, err := s.complete(ctx, experimentSystemPrompt, text)
	if err != nil {
		return domain.GeneratedText{}, &domain.GenerationFailure{Stage: StageText, Err: err}
	}

	out, err := ParseExperimentPayload(raw)
	if err != nil {
		return domain.GeneratedText{}, &domain.GenerationFailure{Stage: StageText, Err: err}
	}
	return out, nil
}

func (s *OpenAIService) complete(ctx context.Context, system, user string) (string, error) {
	if err := s.ensureAPIKey(); err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.4,
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, buf)
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(req.Context(), s.reqTimeout)
	defer cancel()

	resp, err := s.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", s.decodeAPIError(resp)
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func (s *OpenAIService) decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)

	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("openai api error: status %d type %s message %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("openai api error: status %d body %s", resp.StatusCode, string(body))
}

func (s *OpenAIService) ensureAPIKey() error {
	if strings.TrimSpace(s.apiKey) == "" {
		return errors.New("openai api key is not configured")
	}
	return nil
}

var codeFence = regexp.MustCompile("```(?:json)?")

func stripFences(raw string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(raw, ""))
}

// ParseQuizPayload accepts the model's MCQ JSON, where options are objects
// ({"option": "..."}) or plain strings, and returns normalized quiz data.
func ParseQuizPayload(raw string) (domain.QuizData, error) {
	var parsed struct {
		Questions []struct {
			ID         int               `json:"id"`
			Question   string            `json:"question"`
			Options    []json.RawMessage `json:"options"`
			Answer     string            `json:"answer"`
			Correct    string            `json:"correctAnswer"`
			Difficulty string            `json:"difficulty"`
		} `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return domain.QuizData{}, fmt.Errorf("parse quiz json: %w", err)
	}

	questions := make([]domain.QuizQuestion, 0, len(parsed.Questions))
	for i, q := range parsed.Questions {
		options := make([]string, 0, domain.OptionsPerQuestion)
		for _, rawOpt := range q.Options {
			var plain string
			if err := json.Unmarshal(rawOpt, &plain); err == nil {
				options = append(options, plain)
				continue
			}
			var obj struct {
				Option string `json:"option"`
			}
			if err := json.Unmarshal(rawOpt, &obj); err != nil {
				return domain.QuizData{}, fmt.Errorf("question %d: bad option: %w", i+1, err)
			}
			options = append(options, obj.Option)
		}

		answer := q.Answer
		if answer == "" {
			answer = q.Correct
		}

		questions = append(questions, domain.QuizQuestion{
			ID:            q.ID,
			Question:      q.Question,
			Options:       options,
			CorrectAnswer: answer,
			Difficulty:    domain.Difficulty(q.Difficulty),
		})
	}

	return domain.NormalizeQuiz(domain.QuizData{Questions: questions}), nil
}

// ParseExperimentPayload extracts aim, introduction and article and collapses
// whitespace in each.
func ParseExperimentPayload(raw string) (domain.GeneratedText, error) {
	var out domain.GeneratedText
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return domain.GeneratedText{}, fmt.Errorf("parse experiment json: %w", err)
	}
	out.Aim = collapseWhitespace(out.Aim)
	out.Introduction = collapseWhitespace(out.Introduction)
	out.Article = collapseWhitespace(out.Article)
	return out, nil
}
