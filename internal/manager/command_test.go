package manager

import (
	"os"
	"reflect"
	"testing"
)

func TestBuildCommandPlainArgv(t *testing.T) {
	cmd := buildCommand("sleep 30")
	if base := cmd.Args[len(cmd.Args)-1]; base != "30" {
		t.Fatalf("args: %v", cmd.Args)
	}
	if len(cmd.Args) != 2 {
		t.Fatalf("plain command should not grow a shell: %v", cmd.Args)
	}
}

func TestBuildCommandMetacharsWrapShell(t *testing.T) {
	for _, s := range []string{
		"echo a; echo b",
		"cat foo | grep bar",
		"echo $HOME",
		"ls *.log",
		"echo 'quoted'",
	} {
		cmd := buildCommand(s)
		want := []string{"/bin/sh", "-c", s}
		if !reflect.DeepEqual(cmd.Args, want) {
			t.Fatalf("%q: args %v", s, cmd.Args)
		}
	}
}

func TestBuildCommandExplicitShellPassthrough(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sh -c 'echo hi'", "echo hi"},
		{`/bin/sh -c "echo hi; echo there"`, "echo hi; echo there"},
		{"/usr/bin/sh -c sleep 1", "sleep 1"},
	}
	for _, tc := range tests {
		cmd := buildCommand(tc.in)
		want := []string{"/bin/sh", "-c", tc.want}
		if !reflect.DeepEqual(cmd.Args, want) {
			t.Fatalf("%q: args %v, want %v", tc.in, cmd.Args, want)
		}
	}
}

func TestParseExplicitShellNoMatch(t *testing.T) {
	for _, s := range []string{"bash -c 'echo hi'", "shred -c file", "python -c 'print(1)'"} {
		if _, ok := parseExplicitShell(s); ok {
			t.Fatalf("%q should not parse as an explicit sh -c", s)
		}
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := t.TempDir() + "/svc.pid"
	if err := writePIDFile(path, 4321, 1700000000); err != nil {
		t.Fatal(err)
	}
	pid, meta, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != 4321 || meta.StartUnix != 1700000000 {
		t.Fatalf("round trip: pid=%d meta=%+v", pid, meta)
	}
}

func TestReadPIDFileLegacyFormat(t *testing.T) {
	path := t.TempDir() + "/legacy.pid"
	if err := os.WriteFile(path, []byte("777\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, meta, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != 777 || meta.StartUnix != 0 {
		t.Fatalf("legacy parse: pid=%d meta=%+v", pid, meta)
	}
}
