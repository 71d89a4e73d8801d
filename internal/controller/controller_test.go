package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"runbox/internal/lifecycle"
	"runbox/internal/runner"
	"runbox/internal/token"
	"runbox/internal/workspace"
	appErr "runbox/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeRunner struct {
	onRun func(req runner.Request) (runner.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, req runner.Request) (runner.Result, error) {
	if f.onRun == nil {
		return runner.Result{Stdout: "hi\n"}, nil
	}
	return f.onRun(req)
}

func (f *fakeRunner) ScriptArgv(scriptPath string) []string {
	return []string{"fake-interpreter", scriptPath}
}

func (f *fakeRunner) ClampTimeout(d time.Duration) time.Duration {
	return d
}

func newTestRouter(t *testing.T, run runner.Runner) (*gin.Engine, token.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	workspaces, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	registry := token.NewMemoryRegistry()
	coordinator := lifecycle.New(workspaces, run, registry, nil)

	router := gin.New()
	router.POST("/execute", NewExecuteController(coordinator).Execute)
	router.POST("/host", NewHostController(coordinator).Host)
	router.GET("/download/:token", NewDownloadController(registry).Download)
	router.GET("/health", NewHealthController(registry, InterpreterStatus{Available: true, Version: "Python 3.12.0"}, "test").Health)
	return router, registry
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestExecuteHappyPath(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{})

	w := doJSON(router, http.MethodPost, "/execute", `{"code":"print('hi')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Output != "hi\n" || !resp.Success {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.GeneratedFiles) != 0 {
		t.Fatalf("expected no generated files, got %d", len(resp.GeneratedFiles))
	}
}

func TestExecuteRejectsMissingCode(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{})

	w := doJSON(router, http.MethodPost, "/execute", `{"timeout": 5}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestExecuteReportsExecutionFailure(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{
		onRun: func(req runner.Request) (runner.Result, error) {
			return runner.Result{ExitCode: 1}, appErr.New(appErr.ExecutionError).
				WithDetail("stderr", "ValueError: bad value")
		},
	})

	w := doJSON(router, http.MethodPost, "/execute", `{"code":"raise"}`)
	// Execution failures are 200 with success:false; the request itself
	// was served.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["success"] != false {
		t.Fatalf("success = %v", body["success"])
	}
	if body["details"] != "ValueError: bad value" {
		t.Fatalf("details = %v", body["details"])
	}
}

func TestExecuteExposesGeneratedFiles(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{
		onRun: func(req runner.Request) (runner.Result, error) {
			return runner.Result{}, os.WriteFile(filepath.Join(req.Dir, "out.txt"), []byte("x"), 0o600)
		},
	})

	w := doJSON(router, http.MethodPost, "/execute", `{"code":"w"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.GeneratedFiles) != 1 {
		t.Fatalf("generatedFiles = %+v", resp.GeneratedFiles)
	}
	file := resp.GeneratedFiles[0]
	if file.Filename != "out.txt" || file.Size != 1 {
		t.Fatalf("file = %+v", file)
	}
	if !strings.Contains(file.DownloadURL, "/download/") {
		t.Fatalf("downloadUrl = %q", file.DownloadURL)
	}
	if _, err := time.Parse(time.RFC3339, file.Expires); err != nil {
		t.Fatalf("expires not RFC3339: %v", err)
	}

	// The artifact is downloadable until its expiry.
	tok := file.DownloadURL[strings.LastIndex(file.DownloadURL, "/")+1:]
	dw := httptest.NewRecorder()
	router.ServeHTTP(dw, httptest.NewRequest(http.MethodGet, "/download/"+tok, nil))
	if dw.Code != http.StatusOK {
		t.Fatalf("download status = %d", dw.Code)
	}
	if dw.Body.String() != "x" {
		t.Fatalf("download body = %q", dw.Body.String())
	}
	if !strings.Contains(dw.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("disposition = %q", dw.Header().Get("Content-Disposition"))
	}
}

func TestDownloadUnknownToken(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/not-a-real-token", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDownloadExpiredToken(t *testing.T) {
	router, registry := newTestRouter(t, &fakeRunner{})

	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("gone"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	entry, err := registry.Mint(context.Background(), token.Entry{
		FilePath:    path,
		WorkspaceID: "ws-x",
		Filename:    "gone.txt",
	}, -time.Second)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/"+entry.Token, nil))
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", w.Code)
	}
}

func TestHostRoundtrip(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file failed: %v", err)
	}
	part.Write([]byte("remember the milk"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/host", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp HostResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Filename != "notes.txt" || resp.Size != int64(len("remember the milk")) {
		t.Fatalf("response = %+v", resp)
	}

	tok := resp.DownloadURL[strings.LastIndex(resp.DownloadURL, "/")+1:]
	dw := httptest.NewRecorder()
	router.ServeHTTP(dw, httptest.NewRequest(http.MethodGet, "/download/"+tok, nil))
	if dw.Code != http.StatusOK || dw.Body.String() != "remember the milk" {
		t.Fatalf("download status = %d body = %q", dw.Code, dw.Body.String())
	}

	// Tokens are multi-use until expiry; a second download still works.
	dw2 := httptest.NewRecorder()
	router.ServeHTTP(dw2, httptest.NewRequest(http.MethodGet, "/download/"+tok, nil))
	if dw2.Code != http.StatusOK {
		t.Fatalf("second download status = %d", dw2.Code)
	}
}

func TestHostRejectsOversizedUpload(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "huge.bin")
	if err != nil {
		t.Fatalf("create form file failed: %v", err)
	}
	part.Write(bytes.Repeat([]byte{0}, MaxUploadBytes+1))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/host", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestHostRejectsMissingFile(t *testing.T) {
	router, _ := newTestRouter(t, &fakeRunner{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/host", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthReportsLiveTokens(t *testing.T) {
	router, registry := newTestRouter(t, &fakeRunner{})

	registry.Mint(context.Background(), token.Entry{WorkspaceID: "ws-1"}, time.Minute)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Status != "ok" || !resp.Interpreter.Available {
		t.Fatalf("response = %+v", resp)
	}
	if resp.LiveTokens != 1 {
		t.Fatalf("liveTokens = %d", resp.LiveTokens)
	}
	if resp.Environment != "test" {
		t.Fatalf("environment = %q", resp.Environment)
	}
}
