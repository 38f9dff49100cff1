package controller

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"codearena/internal/submit/model"
	"codearena/internal/submit/service"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	maxSourceBytes      = 2 << 20
	maxMultipartMemory  = 4 << 20
	defaultListPageSize = 20
)

// SubmissionService is the part of the submit service the HTTP layer calls.
type SubmissionService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*service.SubmitOutput, error)
	Get(ctx context.Context, submissionID string) (*model.SubmissionView, error)
	List(ctx context.Context, page, pageSize int) (*service.Page, error)
	ListByUser(ctx context.Context, userID int64) ([]model.SubmissionView, error)
	Attempts(ctx context.Context, userID, problemID int64) ([]model.SubmissionView, error)
	Status(ctx context.Context, submissionID string) (model.LiveStatus, error)
}

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService SubmissionService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService SubmissionService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// RegisterRoutes mounts the submission endpoints under /api/v1.
func (h *SubmitController) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	api.POST("/submissions", h.Create)
	api.GET("/submissions", h.List)
	api.GET("/submissions/:id", h.Get)
	api.GET("/submissions/:id/status", h.GetStatus)
	api.GET("/users/:user_id/submissions", h.ListByUser)
	api.GET("/users/:user_id/problems/:problem_id/attempts", h.Attempts)
}

// Create accepts a multipart submission and responds once it is judged.
func (h *SubmitController) Create(c *gin.Context) {
	req, err := parseSubmitForm(c.Request)
	if err != nil {
		response.Error(c, err)
		return
	}

	out, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		UserID:         req.UserID,
		ProblemID:      req.ProblemID,
		Language:       req.Language,
		Version:        req.Version,
		SourceCode:     req.Source,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, out)
}

// Get returns one submission with its source.
func (h *SubmitController) Get(c *gin.Context) {
	view, err := h.submitService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// GetStatus returns the live judging status of one submission.
func (h *SubmitController) GetStatus(c *gin.Context) {
	status, err := h.submitService.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// List returns one page of all submissions.
func (h *SubmitController) List(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.Error(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size", defaultListPageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.submitService.List(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithPagination(c, result.Items, result.Total, result.Page, result.PageSize)
}

// ListByUser returns every submission of a user.
func (h *SubmitController) ListByUser(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.submitService.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nonNil(items))
}

// Attempts returns a user's submissions for one problem.
func (h *SubmitController) Attempts(c *gin.Context) {
	userID, err := pathID(c, "user_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	problemID, err := pathID(c, "problem_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.submitService.Attempts(c.Request.Context(), userID, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nonNil(items))
}

// SubmitRequest is the validated multipart submission.
type SubmitRequest struct {
	UserID    int64
	ProblemID int64
	Language  string
	Version   string
	Source    string
}

// formField names a multipart value with the message used when it is repeated.
type formField struct {
	name      string
	duplicate string
}

var (
	userIDField    = formField{name: "user_id", duplicate: "Just one user id!"}
	problemIDField = formField{name: "problem_id", duplicate: "Just one problem id!"}
	langField      = formField{name: "lang", duplicate: "Just one language!"}
	versionField   = formField{name: "version", duplicate: "Just one version!"}
	sourceField    = formField{name: "source", duplicate: "Just one source file!"}
)

func parseSubmitForm(r *http.Request) (*SubmitRequest, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("Invalid multipart form")
	}
	form := r.MultipartForm

	userID, err := formID(form, userIDField)
	if err != nil {
		return nil, err
	}
	problemID, err := formID(form, problemIDField)
	if err != nil {
		return nil, err
	}
	lang, err := formValue(form, langField, true)
	if err != nil {
		return nil, err
	}
	if !model.SupportedLanguages.Contains(lang) {
		return nil, appErr.New(appErr.LanguageNotSupported).WithMessage("Invalid language")
	}
	version, err := formValue(form, versionField, false)
	if err != nil {
		return nil, err
	}
	source, err := formSource(form)
	if err != nil {
		return nil, err
	}
	return &SubmitRequest{
		UserID:    userID,
		ProblemID: problemID,
		Language:  lang,
		Version:   version,
		Source:    source,
	}, nil
}

func formValue(form *multipart.Form, field formField, required bool) (string, error) {
	values := form.Value[field.name]
	switch {
	case len(values) > 1:
		return "", appErr.New(appErr.InvalidParams).WithMessage(field.duplicate)
	case len(values) == 0 || strings.TrimSpace(values[0]) == "":
		if required {
			return "", appErr.MissingField(field.name)
		}
		return "", nil
	}
	return strings.TrimSpace(values[0]), nil
}

func formID(form *multipart.Form, field formField) (int64, error) {
	raw, err := formValue(form, field, true)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, appErr.ValidationError(field.name, "must be a positive integer")
	}
	return id, nil
}

func formSource(form *multipart.Form) (string, error) {
	files := form.File[sourceField.name]
	switch len(files) {
	case 0:
		return "", appErr.MissingField(sourceField.name)
	case 1:
	default:
		return "", appErr.New(appErr.InvalidParams).WithMessage(sourceField.duplicate)
	}
	header := files[0]
	if header.Size > maxSourceBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessage("Files are bigger than 2MB")
	}
	f, err := header.Open()
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "read source file failed")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSourceBytes+1))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "read source file failed")
	}
	if len(data) > maxSourceBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessage("Files are bigger than 2MB")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", appErr.MissingField(sourceField.name)
	}
	return string(data), nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErr.ValidationError(name, "must be a positive integer")
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, appErr.ValidationError(name, "must be a positive integer")
	}
	return v, nil
}

func nonNil(items []model.SubmissionView) []model.SubmissionView {
	if items == nil {
		return []model.SubmissionView{}
	}
	return items
}
