package accesslog

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/pipeline"
	"github.com/tjfontaine/reqpipe/internal/testutil"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestModule_LogsSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	app := testutil.NewApplication(t, nil, New(logger))

	req, _, err := testutil.Run(t, app, http.MethodGet, "/hello", nil, testutil.TextHandler("hi there"))
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	line := lines[0]
	if line["msg"] != "request completed" || line["level"] != "INFO" {
		t.Errorf("log line = %v", line)
	}
	if line["request_id"] != req.ID || line["path"] != "/hello" {
		t.Errorf("log line = %v", line)
	}
	if line["status"] != float64(200) || line["bytes"] != float64(len("hi there")) {
		t.Errorf("status/bytes = %v/%v", line["status"], line["bytes"])
	}
	if _, ok := line["duration"]; !ok {
		t.Error("duration missing")
	}
}

func TestModule_LogsFailureWithResponderStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	failing := pipeline.HandlerFunc(func(*pipeline.Request) error { return errors.New("boom") })
	app := testutil.NewApplication(t, nil, New(logger))

	if _, _, err := testutil.Run(t, app, http.MethodPost, "/x", nil, failing); err == nil {
		t.Fatal("ProcessRequest() error = nil, want failure")
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	line := lines[0]
	if line["level"] != "WARN" || line["status"] != float64(500) {
		t.Errorf("log line = %v", line)
	}
	if line["failed_stage"] != domain.StageExecuteRequestHandler.String() || line["error"] != "boom" {
		t.Errorf("failure attrs = %v / %v", line["failed_stage"], line["error"])
	}
}

func TestModule_SkipsFlush(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	flushing := pipeline.HandlerFunc(func(req *pipeline.Request) error {
		req.Response().WriteString("part1")
		if err := req.Flush(); err != nil {
			return err
		}
		_, err := req.Response().WriteString("part2")
		return err
	})
	app := testutil.NewApplication(t, nil, New(logger))

	if _, _, err := testutil.Run(t, app, http.MethodGet, "/", nil, flushing); err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	if lines[0]["bytes"] != float64(10) {
		t.Errorf("bytes = %v, want 10", lines[0]["bytes"])
	}
}
