package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/xraph/jobpoller/cmd/jobpoller/cmd"
)

const testConfig = `
poll_interval: 10ms
min_poll_delay: 1ms
overall_deadline: 30s
store:
  driver: memory
executor:
  fake: true
  fake_polls: 2
cron:
  disabled: true
http:
  disabled: true
`

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobpoller.yaml")
	body := testConfig + strings.Join(extra, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runWithLogs(t, args...)
	return out, err
}

func runWithLogs(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := cmd.NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestTrigger_Wait(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "trigger", "nightly", "--params", `{"report":"daily"}`, "--wait")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !strings.Contains(out, "created run run_") {
		t.Errorf("output missing created run:\n%s", out)
	}
	if !strings.Contains(out, "finished SUCCEEDED after 2 polls") {
		t.Errorf("output missing final state:\n%s", out)
	}
}

func TestCronAdd(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "--config", cfg, "cron", "add", "nightly", "0 18 * * MON-FRI")
	if err != nil {
		t.Fatalf("cron add: %v", err)
	}
	if !strings.Contains(out, "registered nightly") {
		t.Errorf("output = %q", out)
	}

	if _, err = run(t, "--config", cfg, "cron", "add", "nightly", "not a schedule"); err == nil {
		t.Fatal("expected an error for a bad schedule")
	}
}

func TestRunsList_RejectsUnknownState(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "runs", "list", "--state", "thawing")
	if err == nil || !strings.Contains(err.Error(), "unknown state") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunsShow_PrintsPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := filepath.Join(t.TempDir(), "jobpoller.yaml")
	body := strings.Replace(testConfig, "driver: memory", "driver: redis\n  redis_addr: "+mr.Addr(), 1)
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := run(t, "--config", cfg, "trigger", "nightly", "--params", `{"report":"daily"}`, "--wait")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	_, rest, ok := strings.Cut(out, "created run ")
	if !ok {
		t.Fatalf("output missing created run:\n%s", out)
	}
	runID, _, _ := strings.Cut(rest, "\n")

	out, err = run(t, "--config", cfg, "runs", "show", runID)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	for _, want := range []string{`{"report":"daily"}`, `{"status":"SUCCEEDED"}`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestRunsShow_BadID(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := run(t, "--config", cfg, "runs", "show", "nope"); err == nil {
		t.Fatal("expected an error for a malformed run id")
	}
}

func TestLogFile(t *testing.T) {
	cfg := writeConfig(t)
	logPath := filepath.Join(t.TempDir(), "logs", "jobpoller.log")
	if _, err := run(t, "--config", cfg, "--log-file", logPath, "--log-format", "json", "cron", "list"); err != nil {
		t.Fatalf("cron list: %v", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"store opened"`) {
		t.Errorf("log file = %s", data)
	}
}

func TestBadLogLevel(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := run(t, "--config", cfg, "--log-level", "loud", "cron", "list"); err == nil {
		t.Fatal("expected an error for an unknown log level")
	}
}

func TestTrigger_AuditLog(t *testing.T) {
	cfg := writeConfig(t, "log:", "  audit: true")
	_, logs, err := runWithLogs(t, "--config", cfg, "trigger", "nightly", "--wait")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	for _, want := range []string{"action=run.started", "action=run.succeeded", "component=audit"} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q:\n%s", want, logs)
		}
	}
}
