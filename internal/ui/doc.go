// Package ui implements a terminal job monitor using bubbletea's Elm architecture.
//
// The monitor has two views:
//  1. [JobListView] : jobs newest first with status, progress bar and last message
//  2. [PromptView] : a text input asking for the page to dump
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern. Orchestrator events arrive
// one at a time from an [EventSource] (a jobs.Subscription in practice); each event re-arms the wait
// so the stream is read without blocking the render loop.
//
// Keys: d starts a dump, c cancels and x removes the selected job, j/k move, q quits.
package ui
