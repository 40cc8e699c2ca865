package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamwatch/internal/monitor"
)

func TestParseDestination(t *testing.T) {
	cases := []struct {
		args    []string
		chat    int64
		thread  int
		wantErr bool
	}{
		{[]string{"42", "-1001"}, -1001, 0, false},
		{[]string{"42", "-1001", "7"}, -1001, 7, false},
		{[]string{"42", "abc"}, 0, 0, true},
		{[]string{"42", "0"}, 0, 0, true},
		{[]string{"42", "-1001", "-2"}, 0, 0, true},
	}
	for _, tc := range cases {
		id, chat, thread, err := parseDestination(tc.args)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%v: expected error", tc.args)
			}
			continue
		}
		if err != nil || id != "42" || chat != tc.chat || thread != tc.thread {
			t.Fatalf("%v: got (%q,%d,%d,%v)", tc.args, id, chat, thread, err)
		}
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, monitor.Outcome{ChannelID: "1", Skipped: monitor.SkipDebounce})
	if !strings.Contains(buf.String(), "skipped") {
		t.Fatalf("out=%q", buf.String())
	}

	buf.Reset()
	printOutcome(&buf, monitor.Outcome{
		ChannelID:   "1",
		DisplayName: "somestreamer",
		Phase:       monitor.SessionEnded,
		Action:      monitor.ActionSummarize,
		Committed:   true,
		SessionEnd:  time.Now().Add(-time.Hour),
		Notify:      monitor.NotifyReport{Edited: 2},
		Removed:     []monitor.Subscription{{DestinationID: -5}},
	})
	out := buf.String()
	for _, want := range []string{"somestreamer: phase=ended", "edited=2", "ended: 1 hour ago", "chat=-5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestChannelAdminCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "storage:\n  driver: file\n  path: " + filepath.Join(dir, "store.json") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	run("channel", "add", "1001", "--name", "somestreamer", "--timezone", "Europe/Berlin")
	run("subscribe", "1001", "-100", "3")
	run("subscribe", "1001", "-100", "3")
	run("subscribe", "1001", "-200")

	list := run("channel", "list")
	if !strings.Contains(list, "somestreamer") || !strings.Contains(list, "Europe/Berlin") {
		t.Fatalf("list=%q", list)
	}
	lines := strings.Split(strings.TrimSpace(list), "\n")
	if len(lines) != 2 || !strings.HasSuffix(strings.TrimSpace(lines[1]), "2") {
		t.Fatalf("list=%q", list)
	}

	run("unsubscribe", "1001", "-100", "3")
	list = run("channel", "list")
	lines = strings.Split(strings.TrimSpace(list), "\n")
	if !strings.HasSuffix(strings.TrimSpace(lines[1]), "1") {
		t.Fatalf("list after unsubscribe=%q", list)
	}
}
