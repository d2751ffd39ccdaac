package executor

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/incubator-ariatosca-sub004/execution"
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/plugin"
	"github.com/apache/incubator-ariatosca-sub004/storage"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptRegistry writes a shell script to a temp dir and installs it as the
// "scripts" plugin's executable for implementation path "scripts/<name>.sh".
func scriptRegistry(t *testing.T, name, script string) *plugin.Registry {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	registry := plugin.NewRegistry()
	registry.Register(plugin.New("scripts", "1.0.0").
		RegisterExecutable("scripts/"+name+".sh", path))
	return registry
}

// newScriptHandle builds a handle for an operation whose implementation is a
// plugin executable, with an operation context rooted at workRoot.
func newScriptHandle(t *testing.T, name, workRoot string) (*execution.TaskHandle, chan execution.Notification) {
	t.Helper()

	node := &model.Node{
		ID:   model.NewID(),
		Name: "node",
		Interfaces: map[string]*model.Interface{
			"test": {Name: "test", Operations: map[string]*model.Operation{
				name: {
					Name:           name,
					Implementation: "scripts/" + name + ".sh",
					Plugin:         &model.PluginSpec{Name: "scripts"},
				},
			}},
		},
	}
	wctx := workflow.NewContext("subprocess-test", storage.NewMemoryStore(), workflow.ContextOptions{
		Logger:  discardLogger(),
		WorkDir: workRoot,
	})
	release := workflow.PushContext(wctx)
	t.Cleanup(release)

	op, err := workflow.NewOperationTask(node, "test", name,
		workflow.WithInputs(map[string]any{"mode": "fast"}))
	if err != nil {
		t.Fatalf("build operation: %v", err)
	}

	octx := &workflow.OperationContext{
		Context:      wctx,
		TaskRecordID: model.NewID(),
		ActorID:      node.ID,
		ActorKind:    model.ActorNode,
		NodeID:       node.ID,
		PluginName:   "scripts",
	}
	task := &execution.Task{ID: op.ID(), Kind: execution.KindOperation, Operation: op}
	notifications := make(chan execution.Notification, 4)
	handle := execution.NewTaskHandle(task, octx, op.Inputs(), func(n execution.Notification) {
		notifications <- n
	})
	return handle, notifications
}

func TestSubprocess_Success(t *testing.T) {
	workRoot := t.TempDir()
	registry := scriptRegistry(t, "ok", "#!/bin/sh\n"+
		"cat > inputs.json\n"+
		"printf '%s' \"$CTX_SOCKET_URL\" > socket_url\n")

	sub := NewSubprocess(registry, SubprocessConfig{Logger: discardLogger()})
	defer sub.Close()

	handle, notifications := newScriptHandle(t, "ok", workRoot)
	if err := sub.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	started, terminal := await(t, notifications)
	if !started {
		t.Error("expected a started notification before the terminal one")
	}
	if terminal.Kind != execution.TaskSucceeded {
		t.Fatalf("expected success, got %v (%v)", terminal.Kind, terminal.Err)
	}

	// The child ran in the plugin workdir, got the inputs on stdin, and the
	// proxy endpoint in its environment.
	workDir := filepath.Join(workRoot, "plugins", "scripts")
	raw, err := os.ReadFile(filepath.Join(workDir, "inputs.json"))
	if err != nil {
		t.Fatalf("stdin inputs not written: %v", err)
	}
	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		t.Fatalf("decode stdin inputs: %v", err)
	}
	if inputs["mode"] != "fast" {
		t.Errorf("unexpected inputs: %v", inputs)
	}
	url, err := os.ReadFile(filepath.Join(workDir, "socket_url"))
	if err != nil {
		t.Fatalf("proxy url not advertised: %v", err)
	}
	if !strings.HasPrefix(string(url), "http://127.0.0.1:") {
		t.Errorf("unexpected proxy url %q", url)
	}
}

func TestSubprocess_NonZeroExit(t *testing.T) {
	registry := scriptRegistry(t, "broken", "#!/bin/sh\n"+
		"echo 'disk quota exceeded' >&2\n"+
		"exit 7\n")

	sub := NewSubprocess(registry, SubprocessConfig{Logger: discardLogger()})
	defer sub.Close()

	handle, notifications := newScriptHandle(t, "broken", t.TempDir())
	if err := sub.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, terminal := await(t, notifications)
	if terminal.Kind != execution.TaskFailed {
		t.Fatalf("expected failure, got %v", terminal.Kind)
	}
	if terminal.Err == nil || !strings.Contains(terminal.Err.Error(), "exit status 7") {
		t.Errorf("exit status not surfaced: %v", terminal.Err)
	}
	if !strings.Contains(terminal.Traceback, "disk quota exceeded") {
		t.Errorf("stderr not captured: %q", terminal.Traceback)
	}
}

func TestSubprocess_Timeout(t *testing.T) {
	registry := scriptRegistry(t, "stuck", "#!/bin/sh\nsleep 5\n")

	sub := NewSubprocess(registry, SubprocessConfig{
		Timeout: 100 * time.Millisecond,
		Logger:  discardLogger(),
	})
	defer sub.Close()

	handle, notifications := newScriptHandle(t, "stuck", t.TempDir())
	if err := sub.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, terminal := await(t, notifications)
	if terminal.Kind != execution.TaskFailed {
		t.Fatalf("expected failure, got %v", terminal.Kind)
	}
	if terminal.Err == nil || !strings.Contains(terminal.Err.Error(), "timed out") {
		t.Errorf("timeout not surfaced: %v", terminal.Err)
	}
}

func TestSubprocess_ResolveFailureStillNotifiesStarted(t *testing.T) {
	// Plugin installed, but nothing registered under the implementation path.
	registry := plugin.NewRegistry()
	registry.Register(plugin.New("scripts", "1.0.0"))

	sub := NewSubprocess(registry, SubprocessConfig{Logger: discardLogger()})
	defer sub.Close()

	handle, notifications := newScriptHandle(t, "absent", t.TempDir())
	if err := sub.Submit(handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	started, terminal := await(t, notifications)
	if !started {
		t.Error("expected a started notification before the terminal one")
	}
	if terminal.Kind != execution.TaskFailed {
		t.Fatalf("expected failure, got %v", terminal.Kind)
	}
	if terminal.Err == nil || !strings.Contains(terminal.Err.Error(), "resolve executable") {
		t.Errorf("resolve error not propagated: %v", terminal.Err)
	}
}

func TestSubprocess_SubmitAfterClose(t *testing.T) {
	registry := scriptRegistry(t, "late", "#!/bin/sh\nexit 0\n")
	sub := NewSubprocess(registry, SubprocessConfig{Logger: discardLogger()})
	if err := sub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handle, _ := newScriptHandle(t, "late", t.TempDir())
	if err := sub.Submit(handle); err == nil {
		t.Error("expected submit to fail after close")
	}
}
