package main

import (
	"bytes"
	"strings"
	"testing"
)

func execCmd(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execCmd("--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("expected version %q, got %q", version, out)
	}
}

func TestInjectRequiresExecutableFlag(t *testing.T) {
	_, err := execCmd("inject", "-o", "out.bin", "--sea", "payload.bin")
	if err == nil {
		t.Fatalf("expected error for missing --executable")
	}
}

func TestInjectRequiresOutputFlag(t *testing.T) {
	_, err := execCmd("inject", "-e", "in.bin", "--sea", "payload.bin")
	if err == nil {
		t.Fatalf("expected error for missing --output")
	}
}

func TestExtractRequiresKindFlag(t *testing.T) {
	_, err := execCmd("extract", "-e", "in.bin", "-o", "out.bin")
	if err == nil {
		t.Fatalf("expected error when neither --sea nor --vfs given")
	}
}

func TestExtractRejectsBothKindFlags(t *testing.T) {
	_, err := execCmd("extract", "-e", "in.bin", "-o", "out.bin", "--sea", "--vfs")
	if err == nil {
		t.Fatalf("expected error when both --sea and --vfs given")
	}
}

func TestVerifyRequiresExecutableFlag(t *testing.T) {
	_, err := execCmd("verify", "--sea")
	if err == nil {
		t.Fatalf("expected error for missing --executable")
	}
}

func TestListRequiresPositionalArg(t *testing.T) {
	_, err := execCmd("list")
	if err == nil {
		t.Fatalf("expected error when list is given no input path")
	}
}

func TestInjectRejectsConflictingVFSModeFlags(t *testing.T) {
	_, err := execCmd("inject", "-e", "in.bin", "-o", "out.bin", "--sea", "payload.bin",
		"--vfs-in-memory", "--vfs-on-disk")
	if err == nil {
		t.Fatalf("expected error for conflicting VFS mode flags")
	}
}
