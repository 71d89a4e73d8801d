package runner

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	appErr "runbox/pkg/errors"
)

func newTestRunner(t *testing.T, cfg Config) *BoundedRunner {
	t.Helper()
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("new runner failed: %v", err)
	}
	return r
}

func TestClampTimeout(t *testing.T) {
	r := newTestRunner(t, Config{MinTimeout: time.Second, MaxTimeout: 60 * time.Second})

	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{-5 * time.Second, time.Second},
		{500 * time.Millisecond, time.Second},
		{30 * time.Second, 30 * time.Second},
		{5 * time.Minute, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := r.ClampTimeout(tc.in); got != tc.want {
			t.Errorf("clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestScriptArgvSubstitution(t *testing.T) {
	r := newTestRunner(t, Config{InterpreterCmd: "python3 -I {script}"})
	argv := r.ScriptArgv("/work/main.py")
	want := []string{"python3", "-I", "/work/main.py"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv = %v, want %v", argv, want)
		}
	}
}

func TestScriptArgvAppendsWithoutPlaceholder(t *testing.T) {
	r := newTestRunner(t, Config{InterpreterCmd: "node"})
	argv := r.ScriptArgv("/work/main.js")
	if len(argv) != 2 || argv[1] != "/work/main.js" {
		t.Fatalf("argv = %v", argv)
	}
}

func TestBuildEnvStripsProxyVars(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://proxy.internal:3128")
	t.Setenv("https_proxy", "http://proxy.internal:3128")
	t.Setenv("NO_PROXY", "localhost")
	t.Setenv("UNRELATED_VAR", "keep-me")

	env := buildEnv(false, nil)
	for _, kv := range env {
		upper := strings.ToUpper(kv)
		if strings.HasPrefix(upper, "HTTP_PROXY=") ||
			strings.HasPrefix(upper, "HTTPS_PROXY=") ||
			strings.HasPrefix(upper, "NO_PROXY=") {
			t.Fatalf("proxy variable leaked into child env: %s", kv)
		}
	}
	found := false
	for _, kv := range env {
		if kv == "UNRELATED_VAR=keep-me" {
			found = true
		}
	}
	if !found {
		t.Fatal("unrelated variable was stripped")
	}
}

func TestBuildEnvKeepsProxyWithNetwork(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://proxy.internal:3128")

	env := buildEnv(true, []string{"example.com", "api.example.com"})
	foundProxy, foundHosts := false, false
	for _, kv := range env {
		if kv == "HTTP_PROXY=http://proxy.internal:3128" {
			foundProxy = true
		}
		if kv == "RUNBOX_ALLOWED_HOSTS=example.com,api.example.com" {
			foundHosts = true
		}
	}
	if !foundProxy {
		t.Fatal("proxy variable missing with network enabled")
	}
	if !foundHosts {
		t.Fatal("allowed hosts missing with network enabled")
	}
}

func TestFilterStderrDropsNoise(t *testing.T) {
	in := strings.Join([]string{
		"DeprecationWarning: thing is deprecated",
		"Traceback (most recent call last):",
		"  RuntimeWarning: overflow",
		"ValueError: bad value",
	}, "\n")
	got := FilterStderr(in)
	if strings.Contains(got, "DeprecationWarning") || strings.Contains(got, "RuntimeWarning") {
		t.Fatalf("noise survived filtering: %q", got)
	}
	if !strings.Contains(got, "ValueError: bad value") || !strings.Contains(got, "Traceback") {
		t.Fatalf("signal lost in filtering: %q", got)
	}
}

func TestRunCapturesStdout(t *testing.T) {
	r := newTestRunner(t, Config{})
	res, err := r.Run(context.Background(), Request{
		Argv:    []string{"sh", "-c", "echo hi"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Stdout != "hi\n" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hi\n")
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}

func TestRunClassifiesNonZeroExit(t *testing.T) {
	r := newTestRunner(t, Config{})
	res, err := r.Run(context.Background(), Request{
		Argv:    []string{"sh", "-c", "echo boom >&2; exit 3"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	if !appErr.Is(err, appErr.ExecutionError) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestRunClassifiesSpawnFailure(t *testing.T) {
	r := newTestRunner(t, Config{})
	_, err := r.Run(context.Background(), Request{
		Argv:    []string{"/no/such/interpreter"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	if !appErr.Is(err, appErr.SpawnError) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
}

func TestRunKillsOnTimeout(t *testing.T) {
	r := newTestRunner(t, Config{MinTimeout: time.Second})

	marker := t.TempDir() + "/late"
	start := time.Now()
	_, err := r.Run(context.Background(), Request{
		Argv:    []string{"sh", "-c", "sleep 5; touch " + marker},
		Dir:     t.TempDir(),
		Timeout: time.Second,
	})
	elapsed := time.Since(start)

	if !appErr.Is(err, appErr.TimeoutError) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("timeout enforcement took %v", elapsed)
	}
	// If the process survived the kill it would touch the marker file.
	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("subprocess survived past its deadline")
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	r := newTestRunner(t, Config{OutputMaxBytes: 16})
	res, err := r.Run(context.Background(), Request{
		Argv:    []string{"sh", "-c", "printf 'x%.0s' $(seq 1 4096)"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(res.Stdout) != 16 {
		t.Fatalf("stdout length = %d, want 16", len(res.Stdout))
	}
}
