package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pacer/internal/store"
	"github.com/roach88/pacer/internal/testutil"
)

const replayInput = `{"timestamp":0,"n":"a"}
{"timestamp":1000,"n":"b"}
{"timestamp":500,"n":"late"}
{"timestamp":3000,"n":"c"}
`

type runHarness struct {
	opts   *RunOptions
	waiter *testutil.RecordingWaiter
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newRunHarness(format string) *runHarness {
	h := &runHarness{
		waiter: testutil.NewRecordingWaiter(),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	h.opts = &RunOptions{
		RootOptions:    &RootOptions{Format: format},
		Environ:        map[string]string{},
		Waiter:         h.waiter,
		RunIDGenerator: testutil.NewFixedRunIDGenerator("run-1"),
	}
	return h
}

func (h *runHarness) execute(ctx context.Context, stdin io.Reader, args ...string) error {
	cmd := newRunCommand(h.opts)
	cmd.SetOut(h.stdout)
	cmd.SetErr(h.stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_ReplaysFileToStdout(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)

	err := h.execute(context.Background(), nil, path)
	require.NoError(t, err)

	assert.Equal(t, `{"timestamp":0,"n":"a"}
{"timestamp":1000,"n":"b"}
{"timestamp":3000,"n":"c"}
`, h.stdout.String())
	assert.Equal(t, []int64{0, 1000, 2000}, h.waiter.WaitMillis())

	stderr := h.stderr.String()
	assert.Contains(t, stderr, "Run run-1: exhausted")
	assert.Contains(t, stderr, "Emitted:    3")
	assert.Contains(t, stderr, "Discarded:  1")
	assert.Contains(t, stderr, "Last event: 1970-01-01T00:00:03Z")
}

func TestRun_SpeedFlag(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)

	require.NoError(t, h.execute(context.Background(), nil, "--speed", "2", path))
	assert.Equal(t, []int64{0, 500, 1000}, h.waiter.WaitMillis())
}

func TestRun_StartTimeDiscardsEarlierRecords(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)

	require.NoError(t, h.execute(context.Background(), nil, "--start-time", "1970-01-01T00:00:02Z", path))

	assert.Equal(t, "{\"timestamp\":3000,\"n\":\"c\"}\n", h.stdout.String())
	assert.Equal(t, []int64{1000}, h.waiter.WaitMillis())
}

func TestRun_Stdin(t *testing.T) {
	h := newRunHarness("text")

	require.NoError(t, h.execute(context.Background(), strings.NewReader(replayInput), "-"))

	assert.Equal(t, 3, strings.Count(h.stdout.String(), "\n"))
	assert.Contains(t, h.stderr.String(), "Source:     stdin (speed 1)")
}

func TestRun_CSVInput(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.csv", "a,0\nb,1500\n")

	err := h.execute(context.Background(), nil,
		"--input-format", "csv", "--time-column", "1", "--time-unit", "ms", path)
	require.NoError(t, err)

	assert.Equal(t, "a,0\nb,1500\n", h.stdout.String())
	assert.Equal(t, []int64{0, 1500}, h.waiter.WaitMillis())
}

func TestRun_EnvelopeAndDatabase(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)
	dbPath := filepath.Join(t.TempDir(), "pacer.db")

	require.NoError(t, h.execute(context.Background(), nil, "--envelope", "--db", dbPath, path))

	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	require.Len(t, lines, 3)
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &env))
	assert.Equal(t, float64(2), env["seq"])
	assert.Equal(t, float64(2), env["line"])
	assert.Equal(t, float64(1000), env["wait_ms"])
	assert.Equal(t, map[string]any{"timestamp": float64(1000), "n": "b"}, env["payload"])

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusExhausted, run.Status)
	assert.Equal(t, int64(3), run.Emitted)
	assert.Equal(t, int64(1), run.Discarded)
	assert.Equal(t, int64(4), run.Lines)

	ems, err := st.ReadEmissions(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, ems, 3)
	assert.Equal(t, []int64{1, 2, 4}, []int64{ems[0].Line, ems[1].Line, ems[2].Line})
	assert.Equal(t, env["record_id"], ems[1].RecordID)
}

func TestRun_SpeedZeroIsCommandError(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)

	err := h.execute(context.Background(), nil, "--speed", "0", path)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "speed")
	assert.Empty(t, h.stdout.String())
	assert.Empty(t, h.waiter.Waits())
}

func TestRun_MissingInput(t *testing.T) {
	h := newRunHarness("text")

	err := h.execute(context.Background(), nil, filepath.Join(t.TempDir(), "absent.jsonl"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open input")
}

func TestRun_NoInputConfigured(t *testing.T) {
	h := newRunHarness("text")

	err := h.execute(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "input")
}

func TestRun_DecodeFailure(t *testing.T) {
	h := newRunHarness("json")
	path := writeInput(t, "events.jsonl", "{\"timestamp\":0}\nnot json\n{\"timestamp\":5}\n")
	dbPath := filepath.Join(t.TempDir(), "pacer.db")

	err := h.execute(context.Background(), nil, "--output", "none", "--db", dbPath, path)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeReplay, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "DECODE")
	data := resp.Data.(map[string]any)
	assert.Equal(t, "failed", data["state"])
	assert.Equal(t, float64(1), data["emitted"])

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	run, err := st.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "line=2")
}

func TestRun_ConfigPrecedence(t *testing.T) {
	path := writeInput(t, "events.jsonl", replayInput)
	cfgPath := writeInput(t, "replay.yaml", "input: "+path+"\nspeed: 10\noutput: none\n")

	tests := []struct {
		name      string
		env       map[string]string
		args      []string
		wantSpeed float64
	}{
		{"file", map[string]string{}, nil, 10},
		{"env over file", map[string]string{"PACER_SPEED": "5"}, nil, 5},
		{"flag over env", map[string]string{"PACER_SPEED": "5"}, []string{"--speed", "4"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRunHarness("json")
			h.opts.Environ = tt.env

			args := append([]string{"--config", cfgPath}, tt.args...)
			require.NoError(t, h.execute(context.Background(), nil, args...))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
			assert.Equal(t, "ok", resp.Status)
			assert.Equal(t, tt.wantSpeed, resp.Data.(map[string]any)["speed"])
		})
	}
}

func TestRun_BadConfigFile(t *testing.T) {
	h := newRunHarness("text")
	cfgPath := writeInput(t, "replay.yaml", "input: x.jsonl\nsped: 10\n")

	err := h.execute(context.Background(), nil, "--config", cfgPath)

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "sped")
}

func TestRun_CancelledByContext(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)
	dbPath := filepath.Join(t.TempDir(), "pacer.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.waiter.OnWait(2, cancel)

	err := h.execute(ctx, nil, "--db", dbPath, path)
	require.NoError(t, err)

	assert.Equal(t, "{\"timestamp\":0,\"n\":\"a\"}\n", h.stdout.String())
	assert.Contains(t, h.stderr.String(), "Run run-1: cancelled")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	run, err := st.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, run.Status)
	assert.Equal(t, int64(1), run.Emitted)
}

func TestRun_ServesMetrics(t *testing.T) {
	h := newRunHarness("text")
	path := writeInput(t, "events.jsonl", replayInput)

	var addr string
	h.opts.OnMetricsListen = func(a string) { addr = a }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var body string
	var scrapeErr error
	h.waiter.OnWait(2, func() {
		defer cancel()
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			scrapeErr = err
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		scrapeErr = err
		body = string(b)
	})

	require.NoError(t, h.execute(ctx, nil, "--metrics-addr", "127.0.0.1:0", "--output", "none", path))

	require.NoError(t, scrapeErr)
	assert.Contains(t, body, "pacer_records_emitted_total 1")
	assert.Contains(t, body, `pacer_state{state="running"} 1`)
	assert.Contains(t, body, "pacer_pacing_wait_seconds_count 1")
}
