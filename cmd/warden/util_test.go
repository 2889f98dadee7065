package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPrintJSON(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { _ = w.Close(); os.Stdout = old; _ = r.Close() }()

	printJSON(map[string]int{"x": 1})
	_ = w.Close()
	var outBuf bytes.Buffer
	_, _ = outBuf.ReadFrom(r)
	s := outBuf.String()
	if !strings.Contains(s, "\"x\": 1") {
		t.Fatalf("unexpected JSON output: %q", s)
	}
}

func TestParseEnv(t *testing.T) {
	m, err := parseEnv(nil)
	if err != nil || m != nil {
		t.Fatalf("empty input should yield nil map, got %v, %v", m, err)
	}

	m, err = parseEnv([]string{"A=1", "B=x=y", "EMPTY="})
	if err != nil {
		t.Fatalf("parseEnv: %v", err)
	}
	if m["A"] != "1" || m["B"] != "x=y" || m["EMPTY"] != "" {
		t.Fatalf("unexpected map: %v", m)
	}

	if _, err := parseEnv([]string{"NOVALUE"}); err == nil {
		t.Fatal("entry without '=' should be rejected")
	}
	if _, err := parseEnv([]string{"=value"}); err == nil {
		t.Fatal("empty key should be rejected")
	}
}
