package listener

import (
	"bytes"
	"testing"
)

func withBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = &buf
	t.Cleanup(func() { out = prev })
	return &buf
}

func TestAsyncPrintlnWithoutTerminal(t *testing.T) {
	buf := withBuffer(t)

	AsyncPrintln("hello")
	PrintAbove("world")

	if got := buf.String(); got != "hello\nworld\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestHeldLinesAreFlushedInOrder(t *testing.T) {
	buf := withBuffer(t)

	BeginInteractive()
	AsyncPrintln("first")
	AsyncPrintln("second")
	if buf.Len() != 0 {
		t.Fatalf("expected output to be held, got %q", buf.String())
	}
	EndInteractive()

	if got := buf.String(); got != "first\nsecond\n" {
		t.Errorf("unexpected output %q", got)
	}
	AsyncPrintln("third")
	if got := buf.String(); got != "first\nsecond\nthird\n" {
		t.Errorf("unexpected output after release %q", got)
	}
}

func TestInputWithoutTerminal(t *testing.T) {
	if _, ok := GetInput(); ok {
		t.Errorf("GetInput should report no input without a terminal")
	}
	if AskYesNo("continue?") {
		t.Errorf("AskYesNo should answer no without a terminal")
	}
}
