package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/nbx/internal/models"
)

var _ list.Item = jobItem{}

// jobItem wraps [models.Job] to implement [list.Item]. bar is the rendered progress bar.
type jobItem struct {
	job models.Job
	bar string
}

func (i jobItem) FilterValue() string { return i.job.ID }
func (i jobItem) Title() string {
	return fmt.Sprintf("%s %s  %s", i.job.Type, shortID(i.job.ID), target(i.job))
}
func (i jobItem) Description() string {
	desc := fmt.Sprintf("%s %s %3d%%", styles.Status(i.job.Status), i.bar, i.job.Progress)
	if i.job.Message != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.job.Message)
	}
	return desc
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// target names what the job works on.
func target(j models.Job) string {
	switch j.Type {
	case models.JobDumpDatabase:
		return j.Params[models.ParamDatabaseID]
	case models.JobMigrate:
		return fmt.Sprintf("%s → %s", j.Params[models.ParamDumpName], j.Params[models.ParamTargetPageID])
	default:
		return j.Params[models.ParamPageID]
	}
}
