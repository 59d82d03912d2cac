package formatter

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/nbx/internal/models"
)

func sampleHistory() []models.DayHistory {
	created := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	completed := started.Add(90 * time.Second)

	return []models.DayHistory{{
		Date: "2025-03-04",
		Jobs: []models.HistoryEntry{
			{
				JobID: "j1", JobType: models.JobDump, Status: models.StatusDone,
				CreatedAt: created, StartedAt: &started, CompletedAt: &completed,
				Progress: 100, Message: "Complete: _dumps/Roadmap_20250304_100001", PageID: "p1",
			},
			{
				JobID: "j2", JobType: models.JobMigrate, Status: models.StatusError,
				CreatedAt: created.Add(time.Minute), Progress: 40, Message: "Error: a|b",
				DumpName: "Roadmap_20250304_100001", TargetPageID: "t1",
			},
		},
	}}
}

func TestCapturePair(t *testing.T) {
	t.Run("WriteCapturePair", func(t *testing.T) {
		dir := t.TempDir()
		tree := map[string]any{"id": "root", "kind": "root", "children": []any{}}
		manifest := map[string]any{"root_id": "root"}

		if err := WriteCapturePair(dir, tree, manifest); err != nil {
			t.Fatalf("WriteCapturePair failed: %v", err)
		}

		for _, name := range []string{TreeFile, ManifestFile} {
			if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
				t.Errorf("%s should exist: %v", name, err)
			}
		}

		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".tmp") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}

		var decoded map[string]any
		if err := ReadJSONFile(filepath.Join(dir, ManifestFile), &decoded); err != nil {
			t.Fatalf("ReadJSONFile failed: %v", err)
		}
		if decoded["root_id"] != "root" {
			t.Errorf("unexpected manifest %v", decoded)
		}
	})

	t.Run("encode failure writes nothing", func(t *testing.T) {
		dir := t.TempDir()
		bad := map[string]any{"ch": make(chan int)}

		if err := WriteCapturePair(dir, map[string]any{}, bad); err == nil {
			t.Fatal("expected an encode error")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected an empty directory, found %d entries", len(entries))
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		err := WriteCapturePair(filepath.Join(t.TempDir(), "gone"), map[string]any{}, map[string]any{})
		if err == nil {
			t.Error("expected error for missing directory")
		}
	})

	t.Run("MarshalJSON keeps URLs readable", func(t *testing.T) {
		data, err := MarshalJSON(map[string]string{"url": "https://x/a?b=1&c=2"}, false)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "b=1&c=2") {
			t.Errorf("ampersand was escaped: %s", data)
		}
	})
}

func TestHistoryExporters(t *testing.T) {
	days := sampleHistory()

	t.Run("HistoryToCSV", func(t *testing.T) {
		data, err := HistoryToCSV(days)
		if err != nil {
			t.Fatalf("HistoryToCSV failed: %v", err)
		}

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected header and 2 rows, got %d", len(records))
		}
		if records[1][4] != "1m30s" {
			t.Errorf("expected duration 1m30s, got %s", records[1][4])
		}
		if records[2][4] != "-" {
			t.Errorf("unfinished job should have no duration, got %s", records[2][4])
		}
		if records[2][6] != "Roadmap_20250304_100001 -> t1" {
			t.Errorf("unexpected migrate target %s", records[2][6])
		}
	})

	t.Run("HistoryToMarkdown", func(t *testing.T) {
		output := string(HistoryToMarkdown(days))

		if !strings.Contains(output, "## 2025-03-04") {
			t.Errorf("missing day heading: %s", output)
		}
		if !strings.Contains(output, `Error: a\|b`) {
			t.Errorf("pipe in message should be escaped: %s", output)
		}
	})

	t.Run("HistoryToText", func(t *testing.T) {
		output := string(HistoryToText(days))
		if !strings.Contains(output, "2025-03-04 (2 jobs)") {
			t.Errorf("missing day summary: %s", output)
		}
		if !strings.Contains(string(HistoryToText(nil)), "No jobs recorded") {
			t.Error("empty history should say so")
		}
	})

	t.Run("ExportHistory", func(t *testing.T) {
		tc := []struct {
			format  string
			wantErr bool
			want    string
		}{
			{format: "", want: "TIME"},
			{format: FormatCSV, want: "Job ID"},
			{format: "md", want: "# Job history"},
			{format: FormatJSON, want: `"date": "2025-03-04"`},
			{format: "xml", wantErr: true},
		}

		for _, tt := range tc {
			t.Run(tt.format, func(t *testing.T) {
				data, err := ExportHistory(days, tt.format)
				if tt.wantErr {
					if err == nil {
						t.Error("expected error")
					}
					return
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !strings.Contains(string(data), tt.want) {
					t.Errorf("expected %q in output: %s", tt.want, data)
				}
			})
		}
	})
}

func TestStatisticsToText(t *testing.T) {
	stats := &models.Statistics{
		PeriodDays: 7, TotalJobs: 4, SuccessRate: 75, AverageDuration: 12.5,
		ByType:   map[string]int{"dump": 3, "migrate": 1},
		ByStatus: map[string]int{"done": 3, "error": 1},
	}

	output := string(StatisticsToText(stats))
	for _, want := range []string{"Total jobs:       4", "75.0%", "12.5s", "dump", "error"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %s", want, output)
		}
	}
}
