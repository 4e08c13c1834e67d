package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/config"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/domain"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/metrics"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/quizsync"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/services"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/session"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/storage"
)

type LLM interface {
	GenerateQuiz(ctx context.Context, topic string) (domain.QuizData, error)
	GenerateContent(ctx context.Context, text string) (domain.GeneratedText, error)
}

type Extractor interface {
	ExtractText(ctx context.Context, filename string, r io.Reader) (string, error)
}

type API struct {
	cfg       config.Config
	log       *logger.Logger
	files     *storage.FileManager
	auth      *services.AuthService
	sessions  *session.Registry
	llm       LLM
	extractor Extractor
	pdf       *services.PDFService
	share     *services.ShareService
}

func NewAPI(cfg config.Config, log *logger.Logger, fm *storage.FileManager, auth *services.AuthService, sessions *session.Registry, p Pipeline, pdf *services.PDFService, share *services.ShareService) *API {
	return &API{
		cfg:       cfg,
		log:       log.With("component", "api"),
		files:     fm,
		auth:      auth,
		sessions:  sessions,
		llm:       p.LLM,
		extractor: p.Extractor,
		pdf:       pdf,
		share:     share,
	}
}

func registerRoutes(r *gin.Engine, api *API, m *metrics.Metrics) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)
		apiGroup.POST("/register", api.handleRegister)
		apiGroup.POST("/login", api.handleLogin)

		authed := apiGroup.Group("", RequireSession(api.sessions))
		authed.POST("/logout", api.handleLogout)

		authed.GET("/experiments", api.handleListExperiments)
		authed.POST("/experiments", api.handleCreateExperiment)
		authed.GET("/experiments/:id", api.handleGetExperiment)
		authed.PATCH("/experiments/:id", api.handleRenameExperiment)
		authed.PATCH("/experiments/:id/content", api.handleUpdateContent)
		authed.DELETE("/experiments/:id", api.handleDeleteExperiment)
		authed.POST("/experiments/:id/select", api.handleSelectExperiment)
		authed.POST("/experiments/:id/generate", api.handleGenerate)
		authed.POST("/experiments/:id/upload", api.handleUploadDocument)

		authed.GET("/experiments/:id/quiz", api.handleGetQuiz)
		authed.POST("/experiments/:id/quiz/questions", api.handleAddQuestion)
		authed.PATCH("/experiments/:id/quiz/questions/:qid", api.handleUpdateQuestion)
		authed.DELETE("/experiments/:id/quiz/questions/:qid", api.handleRemoveQuestion)

		authed.POST("/experiments/:id/pdf", api.handleGeneratePDF)
		authed.POST("/experiments/:id/share", api.handleShareExperiment)
	}

	r.GET("/pdf/:id", api.handleServePDF)
	r.GET("/generate/quiz", api.handleGenerateQuiz)
	r.GET("/generate/content", api.handleGenerateContent)
	r.GET("/metrics", gin.WrapH(m.Handler()))
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleRegister(c *gin.Context) {
	var payload credentials
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
		return
	}

	if err := a.auth.Register(c.Request.Context(), payload.Username, payload.Password); err != nil {
		if domain.IsAuthFailure(err) {
			// duplicate usernames are a bad request, not an auth failure
			respondMessage(c, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
}

func (a *API) handleLogin(c *gin.Context) {
	var payload credentials
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
		return
	}

	token, err := a.auth.Login(c.Request.Context(), payload.Username, payload.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := a.sessions.Authenticate(token); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (a *API) handleLogout(c *gin.Context) {
	a.sessions.Logout(workspace(c).Username, bearerToken(c.GetHeader("Authorization")))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (a *API) handleListExperiments(c *gin.Context) {
	ws := workspace(c)
	selected := ""
	if exp, ok := ws.Store.Selected(); ok {
		selected = exp.ID
	}
	c.JSON(http.StatusOK, gin.H{"experiments": ws.Store.List(), "selected": selected})
}

func (a *API) handleCreateExperiment(c *gin.Context) {
	var payload struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
			return
		}
	}

	exp := workspace(c).Store.Create(payload.Title)
	c.JSON(http.StatusCreated, exp)
}

func (a *API) handleGetExperiment(c *gin.Context) {
	exp, err := workspace(c).Store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (a *API) handleRenameExperiment(c *gin.Context) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
		return
	}

	exp, err := workspace(c).Store.Rename(c.Param("id"), payload.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// handleUpdateContent applies a manual edit. It never bumps the quiz version.
func (a *API) handleUpdateContent(c *gin.Context) {
	var payload struct {
		domain.ContentPatch
		ExpectQuizVersion *int `json:"expectQuizVersion"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
		return
	}
	if payload.ContentPatch.Empty() {
		respondMessage(c, http.StatusBadRequest, codeValidation, "no content fields to update")
		return
	}

	patch := payload.ContentPatch
	patch.ExpectQuizVersion = payload.ExpectQuizVersion

	exp, err := workspace(c).Store.Update(c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (a *API) handleDeleteExperiment(c *gin.Context) {
	id := c.Param("id")
	if err := workspace(c).Store.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleSelectExperiment(c *gin.Context) {
	ws := workspace(c)
	if err := ws.Store.Select(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	exp, _ := ws.Store.Selected()
	c.JSON(http.StatusOK, exp)
}

func (a *API) handleGenerate(c *gin.Context) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		respondError(c, domain.NewValidationError("text", "is required"))
		return
	}

	id := c.Param("id")
	if err := workspace(c).Orchestrator.Start(id, payload.Text); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"experimentId": id, "generating": true})
}

// handleUploadDocument extracts the text of an uploaded document. With
// form field generate=true the text is fed straight into generation.
func (a *API) handleUploadDocument(c *gin.Context) {
	ws := workspace(c)
	id := c.Param("id")
	if _, err := ws.Store.Get(id); err != nil {
		respondError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, err)
			return
		}
		respondMessage(c, http.StatusBadRequest, codeValidation, "missing document file")
		return
	}
	if _, err := storage.CheckDocumentName(fileHeader.Filename); err != nil {
		respondError(c, err)
		return
	}
	if fileHeader.Size > a.files.MaxUploadBytes() {
		respondError(c, storage.ErrUploadTooLarge)
		return
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer upload.Close()

	path, err := a.files.SaveUploadedDocument(upload, fileHeader.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	defer os.Remove(path)

	saved, err := os.Open(path)
	if err != nil {
		respondError(c, err)
		return
	}
	defer saved.Close()

	text, err := a.extractor.ExtractText(c.Request.Context(), fileHeader.Filename, saved)
	if err != nil {
		a.log.Warn("text extraction failed", "experiment", id, "filename", fileHeader.Filename, "error", err)
		if errors.Is(err, services.ErrUnsupportedDocument) {
			respondError(c, err)
			return
		}
		if errors.Is(err, services.ErrDocumentTooLarge) {
			respondMessage(c, http.StatusRequestEntityTooLarge, codeTooLarge, "document is too large to extract")
			return
		}
		respondMessage(c, http.StatusBadGateway, codeUpstream, "text extraction failed")
		return
	}

	generating := false
	if c.PostForm("generate") == "true" && strings.TrimSpace(text) != "" {
		if err := ws.Orchestrator.Start(id, text); err != nil {
			respondError(c, err)
			return
		}
		generating = true
	}

	c.JSON(http.StatusOK, gin.H{"filename": fileHeader.Filename, "text": text, "generating": generating})
}

func (a *API) editor(c *gin.Context) (*quizsync.Editor, bool) {
	ed, err := workspace(c).Editor(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return ed, true
}

func questionID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("qid"))
	if err != nil || id <= 0 {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid question id")
		return 0, false
	}
	return id, true
}

func respondQuiz(c *gin.Context, status int, ed *quizsync.Editor, quiz domain.QuizData, extra gin.H) {
	body := gin.H{"quiz": quiz, "quizVersion": ed.SyncedVersion()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// respondEditError reports a failed edit. Version conflicts carry the fresh
// quiz the editor switched to.
func respondEditError(c *gin.Context, ed *quizsync.Editor, err error) {
	if errors.Is(err, domain.ErrVersionConflict) {
		c.JSON(http.StatusConflict, gin.H{
			"error":       gin.H{"message": "quiz was regenerated; local edits discarded", "code": codeConflict},
			"quiz":        ed.View(),
			"quizVersion": ed.SyncedVersion(),
		})
		return
	}
	respondError(c, err)
}

func (a *API) handleGetQuiz(c *gin.Context) {
	ed, ok := a.editor(c)
	if !ok {
		return
	}
	quiz, resynced, err := ed.Sync()
	if err != nil {
		respondError(c, err)
		return
	}
	respondQuiz(c, http.StatusOK, ed, quiz, gin.H{"resynced": resynced})
}

func (a *API) handleAddQuestion(c *gin.Context) {
	ed, ok := a.editor(c)
	if !ok {
		return
	}
	quiz, id, err := ed.AddQuestion()
	if err != nil {
		respondEditError(c, ed, err)
		return
	}
	respondQuiz(c, http.StatusCreated, ed, quiz, gin.H{"id": id})
}

func (a *API) handleUpdateQuestion(c *gin.Context) {
	ed, ok := a.editor(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}

	var payload struct {
		Field string          `json:"field"`
		Value json.RawMessage `json:"value"`
		Index *int            `json:"index"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, "invalid payload")
		return
	}

	var (
		quiz domain.QuizData
		err  error
	)
	switch {
	case payload.Field == "option":
		var value string
		if payload.Index == nil || json.Unmarshal(payload.Value, &value) != nil {
			respondError(c, domain.NewValidationError("option", "expected index and string value"))
			return
		}
		quiz, err = ed.SetOption(qid, *payload.Index, value)
	case quizsync.Field(payload.Field) == quizsync.FieldOptions:
		var options []string
		if err := json.Unmarshal(payload.Value, &options); err != nil {
			respondError(c, domain.NewValidationError("options", "expected a list of strings"))
			return
		}
		quiz, err = ed.SetQuestionField(qid, quizsync.FieldOptions, options)
	default:
		var value string
		if err := json.Unmarshal(payload.Value, &value); err != nil {
			respondError(c, domain.NewValidationError(payload.Field, "expected a string"))
			return
		}
		quiz, err = ed.SetQuestionField(qid, quizsync.Field(payload.Field), value)
	}
	if err != nil {
		respondEditError(c, ed, err)
		return
	}
	respondQuiz(c, http.StatusOK, ed, quiz, nil)
}

func (a *API) handleRemoveQuestion(c *gin.Context) {
	ed, ok := a.editor(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}
	quiz, err := ed.RemoveQuestion(qid)
	if err != nil {
		respondEditError(c, ed, err)
		return
	}
	respondQuiz(c, http.StatusOK, ed, quiz, nil)
}

func (a *API) handleGeneratePDF(c *gin.Context) {
	exp, err := workspace(c).Store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	pdfPath := a.files.PDFPath(exp.ID)
	if err := a.pdf.GeneratePDF(exp, pdfPath); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pdfPath": pdfPath})
}

func (a *API) handleShareExperiment(c *gin.Context) {
	exp, err := workspace(c).Store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if !a.files.HasHandout(exp.ID) {
		respondMessage(c, http.StatusBadRequest, codeValidation, "no pdf available for this experiment")
		return
	}

	url, link := a.share.Issue(exp.ID, workspace(c).Username)
	c.JSON(http.StatusOK, gin.H{"url": url, "expiresAt": time.Unix(link.ExpiresAt, 0).UTC()})
}

func (a *API) handleServePDF(c *gin.Context) {
	id := c.Param("id")
	link, err := services.ParseShareLink(id, c.Request.URL.Query())
	if err != nil {
		respondMessage(c, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	switch err := a.share.Verify(link); {
	case errors.Is(err, services.ErrLinkExpired):
		respondMessage(c, http.StatusGone, "link_expired", "link expired")
		return
	case err != nil:
		respondMessage(c, http.StatusForbidden, "invalid_signature", "invalid signature")
		return
	}

	pdfPath := a.files.PDFPath(id)
	if !a.files.HasHandout(id) {
		respondMessage(c, http.StatusNotFound, codeNotFound, "pdf not found")
		return
	}
	a.log.Debug("serving shared handout", "experimentId", id, "owner", link.Owner)

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(pdfPath, filepath.Base(pdfPath))
}

// The two generator endpoints speak the flat {"error": "..."} format the
// remote generation clients expect.

func (a *API) handleGenerateQuiz(c *gin.Context) {
	topic := strings.TrimSpace(c.Query("topic"))
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'topic' query parameter"})
		return
	}

	quiz, err := a.llm.GenerateQuiz(c.Request.Context(), topic)
	if err != nil {
		a.log.Warn("quiz generation failed", "topic", topic, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, quiz)
}

func (a *API) handleGenerateContent(c *gin.Context) {
	text := strings.TrimSpace(c.Query("text"))
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'text' query parameter"})
		return
	}

	out, err := a.llm.GenerateContent(c.Request.Context(), text)
	if err != nil {
		a.log.Warn("content generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
