package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollectPrompts(t *testing.T) {
	resetFlags := func() {
		runPrompts = nil
		runFile = ""
	}

	t.Run("positional argument", func(t *testing.T) {
		resetFlags()
		prompts, err := collectPrompts([]string{"do the thing"})
		if err != nil {
			t.Fatal(err)
		}
		if len(prompts) != 1 || prompts[0] != "do the thing" {
			t.Errorf("prompts = %v", prompts)
		}
	})

	t.Run("repeated prompt flag", func(t *testing.T) {
		resetFlags()
		runPrompts = []string{"first", "second"}
		prompts, err := collectPrompts(nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(prompts) != 2 {
			t.Errorf("prompts = %v", prompts)
		}
	})

	t.Run("prompt from file", func(t *testing.T) {
		resetFlags()
		path := filepath.Join(t.TempDir(), "prompt.txt")
		if err := os.WriteFile(path, []byte("from file"), 0o600); err != nil {
			t.Fatal(err)
		}
		runFile = path
		prompts, err := collectPrompts(nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(prompts) != 1 || prompts[0] != "from file" {
			t.Errorf("prompts = %v", prompts)
		}
	})

	t.Run("no prompt is an error", func(t *testing.T) {
		resetFlags()
		_, err := collectPrompts(nil)
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 20)
	if got := truncateText(long, 10); got != strings.Repeat("x", 10)+"..." {
		t.Errorf("got %q", got)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"run": false, "resume": false, "status": false,
		"logs": false, "cancel": false, "version": false,
	}
	for _, sub := range rootCmd.Commands() {
		name := strings.Fields(sub.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
