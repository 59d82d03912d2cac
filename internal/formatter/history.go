package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/nbx/internal/models"
)

// Supported history export formats.
const (
	FormatText     = "text"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

var historyHeaders = []string{"Job ID", "Type", "Status", "Created", "Duration", "Progress", "Target", "Message"}

// ExportHistory renders days in the requested format.
func ExportHistory(days []models.DayHistory, format string) ([]byte, error) {
	switch format {
	case "", FormatText:
		return HistoryToText(days), nil
	case FormatCSV:
		return HistoryToCSV(days)
	case FormatMarkdown, "md":
		return HistoryToMarkdown(days), nil
	case FormatJSON:
		return MarshalJSON(days, true)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// HistoryToCSV renders one row per job with the columns of [historyHeaders].
func HistoryToCSV(days []models.DayHistory) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(historyHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, day := range days {
		for _, e := range day.Jobs {
			record := []string{
				e.JobID,
				string(e.JobType),
				string(e.Status),
				e.CreatedAt.Format(time.RFC3339),
				formatDuration(e),
				strconv.Itoa(e.Progress),
				target(e),
				e.Message,
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// HistoryToMarkdown renders a section per day with a table of its jobs.
func HistoryToMarkdown(days []models.DayHistory) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Job history\n\n")

	if len(days) == 0 {
		buf.WriteString("_No jobs recorded._\n")
		return buf.Bytes()
	}

	for _, day := range days {
		fmt.Fprintf(&buf, "## %s\n\n", day.Date)
		buf.WriteString("| " + strings.Join(historyHeaders[1:], " | ") + " |\n")
		buf.WriteString("|" + strings.Repeat(" --- |", len(historyHeaders)-1) + "\n")
		for _, e := range day.Jobs {
			fmt.Fprintf(&buf, "| %s | %s | %s | %s | %d%% | %s | %s |\n",
				e.JobType, e.Status, e.CreatedAt.Format("15:04:05"), formatDuration(e),
				e.Progress, target(e), strings.ReplaceAll(e.Message, "|", "\\|"))
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// HistoryToText renders an aligned plain text table per day.
func HistoryToText(days []models.DayHistory) []byte {
	var buf bytes.Buffer
	if len(days) == 0 {
		buf.WriteString("No jobs recorded.\n")
		return buf.Bytes()
	}

	for i, day := range days {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "%s (%d jobs)\n", day.Date, len(day.Jobs))

		tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  TIME\tTYPE\tSTATUS\tDURATION\tTARGET\tMESSAGE")
		for _, e := range day.Jobs {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Format("15:04:05"), e.JobType, e.Status, formatDuration(e), target(e), e.Message)
		}
		tw.Flush()
	}
	return buf.Bytes()
}

// StatisticsToText renders a statistics summary.
func StatisticsToText(s *models.Statistics) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Last %d days\n", s.PeriodDays)
	fmt.Fprintf(&buf, "Total jobs:       %d\n", s.TotalJobs)
	fmt.Fprintf(&buf, "Success rate:     %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(&buf, "Average duration: %.1fs\n", s.AverageDuration)

	writeCounts(&buf, "By type", s.ByType)
	writeCounts(&buf, "By status", s.ByStatus)
	writeCounts(&buf, "Per day", s.DailyCounts)
	return buf.Bytes()
}

func writeCounts(buf *bytes.Buffer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(buf, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(buf, "  %-14s %d\n", k, counts[k])
	}
}

// JobsToText renders live jobs as an aligned table.
func JobsToText(jobs []models.Job) []byte {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tMESSAGE")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n", j.ID, j.Type, j.Status, j.Progress, j.Message)
	}
	tw.Flush()
	return buf.Bytes()
}

func formatDuration(e models.HistoryEntry) string {
	d, ok := e.Duration()
	if !ok {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func target(e models.HistoryEntry) string {
	switch {
	case e.PageID != "":
		return e.PageID
	case e.DatabaseID != "":
		return e.DatabaseID
	case e.DumpName != "" && e.TargetPageID != "":
		return e.DumpName + " -> " + e.TargetPageID
	case e.DumpName != "":
		return e.DumpName
	default:
		return "-"
	}
}
