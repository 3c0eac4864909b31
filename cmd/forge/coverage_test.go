package main

import (
	"os"
	"path/filepath"
	"testing"

	"evmforge/internal/coverage"
)

func TestWriteReportSummaryFormat(t *testing.T) {
	report := coverage.NewReport(nil)
	path := filepath.Join(t.TempDir(), "summary.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := writeReport(report, "summary", f); err != nil {
		t.Fatalf("writeReport: %v", err)
	}
}

func TestWriteReportUnknownFormatErrors(t *testing.T) {
	report := coverage.NewReport(nil)
	path := filepath.Join(t.TempDir(), "out.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := writeReport(report, "yaml", f); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}
