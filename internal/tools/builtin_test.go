package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relay/internal/checkpoint"
	"relay/internal/matcher"
)

func validate(t *testing.T, tool Tool, raw string) any {
	t.Helper()
	params, err := tool.Validate(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Validate(%s): %v", raw, err)
	}
	return params
}

func TestResolvePath(t *testing.T) {
	root := "/ws/project"
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "main.go", want: "/ws/project/main.go"},
		{in: "sub/dir/file.txt", want: "/ws/project/sub/dir/file.txt"},
		{in: "/ws/project/abs.go", want: "/ws/project/abs.go"},
		{in: "sub/../main.go", want: "/ws/project/main.go"},
		{in: "", wantErr: true},
		{in: "../outside.txt", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		got, err := resolvePath(root, tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("resolvePath(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolvePath(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("resolvePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteThenReadFile(t *testing.T) {
	root := t.TempDir()
	files := checkpoint.LocalFiles{}

	write := NewWriteFile(root, files)
	params := validate(t, write, `{"path":"notes/hello.txt","content":"line one\nline two"}`)
	result, err := write.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if wr := result.(writeResult); !wr.Created {
		t.Error("Created = false for a new file")
	}

	read := NewReadFile(root, files)
	params = validate(t, read, `{"path":"notes/hello.txt"}`)
	result, err = read.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out, err := read.Stringify(params, result)
	if err != nil {
		t.Fatalf("stringify: %v", err)
	}
	if !strings.Contains(out, "1\tline one") || !strings.Contains(out, "2\tline two") {
		t.Errorf("numbered output missing lines:\n%s", out)
	}
}

func TestWriteFileOverwriteReportsNotCreated(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	write := NewWriteFile(root, checkpoint.LocalFiles{})
	params := validate(t, write, `{"path":"a.txt","content":"new"}`)
	result, err := write.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if wr := result.(writeResult); wr.Created {
		t.Error("Created = true for an overwrite")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "new" {
		t.Errorf("content = %q, want %q", data, "new")
	}
}

func TestReadFileMissing(t *testing.T) {
	read := NewReadFile(t.TempDir(), checkpoint.LocalFiles{})
	params := validate(t, read, `{"path":"missing.txt"}`)
	if _, err := read.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEditFileAppliesBlocks(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "code.go")
	original := "func main() {\n\tfmt.Println(\"old\")\n}\n"
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	edit := NewEditFile(root, checkpoint.LocalFiles{}, matcher.Default())
	diff := "<<<<<<< ORIGINAL\n\tfmt.Println(\"old\")\n=======\n\tfmt.Println(\"new\")\n>>>>>>> UPDATED"
	raw, _ := json.Marshal(map[string]string{"path": "code.go", "diff": diff})

	params := validate(t, edit, string(raw))
	result, err := edit.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	er := result.(editResult)
	if er.Applied != 1 || er.Failed != 0 {
		t.Fatalf("applied=%d failed=%d, want 1/0", er.Applied, er.Failed)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `fmt.Println("new")`) {
		t.Errorf("edit not applied:\n%s", data)
	}
}

func TestEditFileRejectsMalformedDiff(t *testing.T) {
	edit := NewEditFile(t.TempDir(), checkpoint.LocalFiles{}, matcher.Default())
	raw, _ := json.Marshal(map[string]string{"path": "a.go", "diff": "<<<<<<< ORIGINAL\nunterminated"})
	if _, err := edit.Validate(raw); err == nil {
		t.Fatal("expected validation error for unterminated block")
	}
	raw, _ = json.Marshal(map[string]string{"path": "a.go", "diff": "no markers here"})
	if _, err := edit.Validate(raw); err == nil {
		t.Fatal("expected validation error for empty diff")
	}
}

func TestEditFileMissingFile(t *testing.T) {
	edit := NewEditFile(t.TempDir(), checkpoint.LocalFiles{}, matcher.Default())
	raw, _ := json.Marshal(map[string]string{
		"path": "gone.go",
		"diff": "<<<<<<< ORIGINAL\nx\n=======\ny\n>>>>>>> UPDATED",
	})
	params := validate(t, edit, string(raw))
	if _, err := edit.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// fakeRunner avoids spawning processes in gateway-level tests.
type fakeRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (r fakeRunner) Run(context.Context, string) (string, string, int, error) {
	return r.stdout, r.stderr, r.exitCode, r.err
}

func TestRunCommandStringify(t *testing.T) {
	cmd := NewRunCommand(fakeRunner{stdout: "hello\n", stderr: "warn\n", exitCode: 2})
	params := validate(t, cmd, `{"command":"do-thing"}`)
	result, err := cmd.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	out, err := cmd.Stringify(params, result)
	if err != nil {
		t.Fatalf("stringify: %v", err)
	}
	for _, want := range []string{"hello", "stderr:", "warn", "exit code: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunCommandValidation(t *testing.T) {
	cmd := NewRunCommand(fakeRunner{})
	if _, err := cmd.Validate(json.RawMessage(`{"command":"  "}`)); err == nil {
		t.Error("blank command accepted")
	}
	if _, err := cmd.Validate(json.RawMessage(`{"command":"ls","timeout_seconds":-1}`)); err == nil {
		t.Error("negative timeout accepted")
	}
	if !cmd.RequiresApproval() {
		t.Error("run_command must require approval")
	}
}

func TestRunCommandInterruptedKeepsOutput(t *testing.T) {
	cmd := NewRunCommand(fakeRunner{stdout: "half done", err: context.Canceled})
	params := validate(t, cmd, `{"command":"long-task"}`)
	result, err := cmd.Execute(context.Background(), params)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	cr, ok := result.(commandResult)
	if !ok {
		t.Fatalf("no partial result attached: %v", result)
	}
	if !cr.Interrupted || cr.Stdout != "half done" {
		t.Errorf("partial result = %+v", cr)
	}
}

func TestExecRunnerCapturesExitCode(t *testing.T) {
	r := ExecRunner{Dir: t.TempDir()}
	stdout, _, code, err := r.Run(context.Background(), "echo ok; exit 3")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if strings.TrimSpace(stdout) != "ok" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", commandMaxOutput+100)
	got := truncateOutput(long)
	if len(got) >= len(long) {
		t.Error("output not truncated")
	}
	if !strings.HasSuffix(got, "(output truncated)") {
		t.Error("missing truncation marker")
	}
}
