package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codearena/internal/judge/verdict"
	"codearena/internal/submit/controller"
	"codearena/internal/submit/model"
	"codearena/internal/submit/service"
	appErr "codearena/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeService struct {
	lastInput service.SubmitInput
	submitErr error
	views     []model.SubmissionView
	lastPage  [2]int
}

func (f *fakeService) Submit(_ context.Context, input service.SubmitInput) (*service.SubmitOutput, error) {
	f.lastInput = input
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	v := verdict.Accepted
	return &service.SubmitOutput{Submission: &model.Submission{SubmissionID: "s-1", Status: model.StatusFinished, Verdict: &v}}, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*model.SubmissionView, error) {
	for i := range f.views {
		if f.views[i].SubmissionID == id {
			return &f.views[i], nil
		}
	}
	return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
}

func (f *fakeService) List(_ context.Context, page, pageSize int) (*service.Page, error) {
	f.lastPage = [2]int{page, pageSize}
	return &service.Page{Items: f.views, Total: int64(len(f.views)), Page: page, PageSize: pageSize}, nil
}

func (f *fakeService) ListByUser(context.Context, int64) ([]model.SubmissionView, error) {
	return nil, nil
}

func (f *fakeService) Attempts(_ context.Context, userID, problemID int64) ([]model.SubmissionView, error) {
	return f.views, nil
}

func (f *fakeService) Status(_ context.Context, id string) (model.LiveStatus, error) {
	return model.LiveStatus{SubmissionID: id, Status: model.StatusRunning, DoneCases: 1, TotalCases: 4}, nil
}

func newRouter(svc controller.SubmissionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	controller.NewSubmitController(svc).RegisterRoutes(r)
	return r
}

type part struct {
	name     string
	value    string
	filename string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		if p.filename != "" {
			fw, err := w.CreateFormFile(p.name, p.filename)
			if err != nil {
				t.Fatalf("create file part failed: %v", err)
			}
			_, _ = fw.Write([]byte(p.value))
			continue
		}
		if err := w.WriteField(p.name, p.value); err != nil {
			t.Fatalf("write field failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer failed: %v", err)
	}
	return body, w.FormDataContentType()
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

func do(t *testing.T, r http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, rec.Body.String())
	}
	return rec, env
}

func validParts() []part {
	return []part{
		{name: "user_id", value: "7"},
		{name: "problem_id", value: "3"},
		{name: "lang", value: "cpp"},
		{name: "source", value: "int main(){}", filename: "main.cpp"},
	}
}

func TestCreateSubmission(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	body, contentType := multipartBody(t, validParts()...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "k-1")

	rec, env := do(t, r, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(string(env.Data), `"verdict":"AC"`) {
		t.Fatalf("expected AC in response, got %s", env.Data)
	}
	in := svc.lastInput
	if in.UserID != 7 || in.ProblemID != 3 || in.Language != "cpp" || in.SourceCode != "int main(){}" || in.IdempotencyKey != "k-1" {
		t.Fatalf("unexpected input %+v", in)
	}
}

func TestCreateSubmissionRejectsBadForms(t *testing.T) {
	without := func(name string) []part {
		var out []part
		for _, p := range validParts() {
			if p.name != name {
				out = append(out, p)
			}
		}
		return out
	}
	tests := []struct {
		name    string
		parts   []part
		status  int
		message string
	}{
		{name: "missing user", parts: without("user_id"), status: http.StatusBadRequest, message: "Missing field: user_id"},
		{name: "missing source", parts: without("source"), status: http.StatusBadRequest, message: "Missing field: source"},
		{name: "duplicate user", parts: append(validParts(), part{name: "user_id", value: "8"}), status: http.StatusBadRequest, message: "Just one user id!"},
		{name: "duplicate source", parts: append(validParts(), part{name: "source", value: "x", filename: "b.cpp"}), status: http.StatusBadRequest, message: "Just one source file!"},
		{name: "bad language", parts: append(without("lang"), part{name: "lang", value: "rust"}), status: http.StatusBadRequest, message: "Invalid language"},
		{name: "bad id", parts: append(without("problem_id"), part{name: "problem_id", value: "abc"}), status: http.StatusBadRequest},
		{name: "too large", parts: append(without("source"), part{name: "source", value: strings.Repeat("a", 2<<20+1), filename: "big.cpp"}), status: http.StatusRequestEntityTooLarge, message: "Files are bigger than 2MB"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeService{}
			r := newRouter(svc)
			body, contentType := multipartBody(t, tt.parts...)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
			req.Header.Set("Content-Type", contentType)

			rec, env := do(t, r, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.message != "" && env.Message != tt.message {
				t.Fatalf("expected message %q, got %q", tt.message, env.Message)
			}
			if svc.lastInput.UserID != 0 {
				t.Fatalf("service must not be called for rejected forms")
			}
		})
	}
}

func TestCreateSubmissionServiceError(t *testing.T) {
	svc := &fakeService{submitErr: appErr.New(appErr.SandboxFailure).WithMessage("judge submission failed")}
	r := newRouter(svc)
	body, contentType := multipartBody(t, validParts()...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)

	rec, env := do(t, r, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if env.Code != appErr.SandboxFailure {
		t.Fatalf("expected sandbox failure code, got %d", env.Code)
	}
}

func TestReadEndpoints(t *testing.T) {
	svc := &fakeService{views: []model.SubmissionView{
		{Submission: model.Submission{SubmissionID: "a", UserID: 7, ProblemID: 3}, Source: "print(1)"},
	}}
	r := newRouter(svc)

	rec, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/a", nil))
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"source":"print(1)"`) {
		t.Fatalf("unexpected get response %d %s", rec.Code, env.Data)
	}

	rec, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/zzz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec, env = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/a/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"status":"running"`) {
		t.Fatalf("unexpected status response %d %s", rec.Code, env.Data)
	}

	rec, env = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/submissions?page=2&page_size=5", nil))
	if rec.Code != http.StatusOK || svc.lastPage != [2]int{2, 5} {
		t.Fatalf("unexpected list call %v (%d)", svc.lastPage, rec.Code)
	}
	if !strings.Contains(string(env.Data), `"total":1`) {
		t.Fatalf("expected pagination envelope, got %s", env.Data)
	}

	rec, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/submissions?page=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", rec.Code)
	}

	rec, env = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/users/7/submissions", nil))
	if rec.Code != http.StatusOK || string(env.Data) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rec.Code, env.Data)
	}

	rec, _ = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/users/x/problems/3/attempts", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad user id, got %d", rec.Code)
	}

	rec, env = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/users/7/problems/3/attempts", nil))
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"submission_id":"a"`) {
		t.Fatalf("unexpected attempts response %d %s", rec.Code, env.Data)
	}
}
