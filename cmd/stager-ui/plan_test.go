package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPlanCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"plan",
		"--src", "/project/raw/",
		"--src", "/project/raw/a.txt",
		"--src", "/project/notes.txt",
		"--dst", "/di/dccn/",
		"--dst-prefix", "irods:",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("plan: %v", err)
	}

	got := out.String()
	for _, want := range []string{"2 transfer jobs to be submitted.", "irods:/di/dccn/raw/", "/project/notes.txt"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "/project/raw/a.txt") {
		t.Errorf("covered file listed:\n%s", got)
	}
}

func TestPlanCommand_InvalidSelection(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"plan", "--src", "/a/", "--dst", "/b/file.txt"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "destination not a directory") {
		t.Fatalf("expected destination error, got %v", err)
	}
}
