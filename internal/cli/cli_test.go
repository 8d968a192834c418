package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()
	cmd := NewRootCmd()
	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

// isolate points config (and therefore snapshot storage) at a temp dir and
// clears any ambient environment that would leak into the run.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("KOINONIA_CONFIG_DIR", t.TempDir())
	t.Setenv("KOINONIA_ROOM", "")
	t.Setenv("KOINONIA_DATA_DIR", "")
	t.Setenv("KOINONIA_HUB", "")
	t.Setenv("KOINONIA_NAME", "")
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := runCLI(t, args)
	if err != nil {
		t.Fatalf("%v error: %v\nstderr:\n%s", args, err, errOut)
	}
	return string(out)
}

func listLines(t *testing.T, room string) []string {
	t.Helper()
	out := mustRun(t, "--room", room, "items", "list")
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestItemsAddAndNest(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "r", "items", "add", "alpha")
	mustRun(t, "--room", "r", "items", "add", "beta", "--parent", "alpha")

	got := listLines(t, "r")
	want := []string{"[ ] alpha", "  [ ] beta"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q; want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestItemsMoveBefore(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "r", "items", "add", "alpha", "beta", "gamma")
	mustRun(t, "--room", "r", "items", "move", "gamma", "--before", "beta")

	got := listLines(t, "r")
	want := []string{"[ ] alpha", "[ ] gamma", "[ ] beta"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("lines = %q; want %q", got, want)
		}
	}
}

func TestItemsMoveReparent(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "r", "items", "add", "parent", "loose")
	mustRun(t, "--room", "r", "items", "move", "loose", "--parent", "parent")

	got := listLines(t, "r")
	want := []string{"[ ] parent", "  [ ] loose"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("lines = %q; want %q", got, want)
		}
	}

	mustRun(t, "--room", "r", "items", "move", "loose", "--parent", "-")
	got = listLines(t, "r")
	for _, line := range got {
		if strings.HasPrefix(line, "  ") {
			t.Fatalf("expected no nested items after unnest, got %q", got)
		}
	}
}

func TestItemsToggleCascades(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "r", "items", "add", "parent")
	mustRun(t, "--room", "r", "items", "add", "child", "--parent", "parent")
	mustRun(t, "--room", "r", "items", "toggle", "parent")

	for _, line := range listLines(t, "r") {
		if !strings.Contains(line, "[x]") {
			t.Fatalf("expected every item checked, got %q", line)
		}
	}
}

func TestItemsClearRequiresYes(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "r", "items", "add", "keep")
	if _, _, err := runCLI(t, []string{"--room", "r", "items", "clear"}); err == nil {
		t.Fatal("clear without --yes should fail")
	}
	if got := listLines(t, "r"); len(got) != 1 {
		t.Fatalf("items lost without confirmation: %q", got)
	}

	mustRun(t, "--room", "r", "items", "clear", "--yes")
	if got := listLines(t, "r"); len(got) != 0 {
		t.Fatalf("expected empty list, got %q", got)
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	isolate(t)

	src := filepath.Join(t.TempDir(), "list.txt")
	text := "milk\n  eggs\nbread\n"
	if err := os.WriteFile(src, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "--room", "r", "import", src)
	if !strings.Contains(out, "imported 3") {
		t.Fatalf("unexpected import output: %q", out)
	}

	got := mustRun(t, "--room", "r", "export")
	if got != "milk\n  eggs\nbread" {
		t.Fatalf("export = %q", got)
	}
}

func TestListsRecent(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "groceries", "items", "add", "milk")
	out := mustRun(t, "lists")
	if !strings.Contains(out, "groceries") || !strings.Contains(out, "1 item(s)") {
		t.Fatalf("lists output = %q", out)
	}

	mustRun(t, "lists", "forget", "groceries")
	out = mustRun(t, "lists")
	if strings.Contains(out, "groceries") {
		t.Fatalf("forgot list still present: %q", out)
	}

	// Forget drops the registry entry only; the local snapshot survives.
	out = mustRun(t, "lists", "--all")
	if !strings.Contains(out, "groceries") {
		t.Fatalf("lists --all should still show saved data: %q", out)
	}
}

func TestAmbiguousReferenceRejected(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "r", "items", "add", "apple", "apple")
	if _, _, err := runCLI(t, []string{"--room", "r", "items", "toggle", "apple"}); err == nil {
		t.Fatal("ambiguous name should be rejected")
	}
}

func TestRoomDefaultsToMostRecent(t *testing.T) {
	isolate(t)

	mustRun(t, "--room", "groceries", "items", "add", "milk")
	// No --room: should resolve to the most recently opened list.
	out := mustRun(t, "items", "list")
	if !strings.Contains(out, "milk") {
		t.Fatalf("default room did not resolve to recent list: %q", out)
	}
}
