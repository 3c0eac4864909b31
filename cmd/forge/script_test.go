package main

import (
	"context"
	"testing"
)

func TestRunScriptNoCodeOnUnforkedSessionErrors(t *testing.T) {
	// With no fork pinned, every address resolves to an empty account, so
	// runScript must refuse with a "no code" error rather than executing.
	err := runScript(context.Background(), "", "0x0000000000000000000000000000000000000001")
	if err == nil {
		t.Fatal("expected an error for an address with no code")
	}
}
