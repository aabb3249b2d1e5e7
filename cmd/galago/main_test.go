package main

import (
	"testing"

	"github.com/zboralski/galago/internal/sched"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"5", "0x10", "i:7", "p:0x2000", "s:hello"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
	if v, ok := args[0].(sched.ArgInt); !ok || v != 5 {
		t.Fatalf("args[0] = %#v, want ArgInt(5)", args[0])
	}
	if v, ok := args[1].(sched.ArgInt); !ok || v != 0x10 {
		t.Fatalf("args[1] = %#v, want ArgInt(0x10)", args[1])
	}
	if v, ok := args[3].(sched.ArgPtr); !ok || v != 0x2000 {
		t.Fatalf("args[3] = %#v, want ArgPtr(0x2000)", args[3])
	}
	if v, ok := args[4].(sched.ArgString); !ok || v != "hello" {
		t.Fatalf("args[4] = %#v, want ArgString(hello)", args[4])
	}
}

func TestParseArgsUnknownTag(t *testing.T) {
	if _, err := parseArgs([]string{"z:oops"}); err == nil {
		t.Fatalf("expected error for unknown arg tag")
	}
}

func TestParseArgsBadInt(t *testing.T) {
	if _, err := parseArgs([]string{"not-a-number"}); err == nil {
		t.Fatalf("expected error for unparsable int")
	}
}
