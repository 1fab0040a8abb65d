// Package store provides SQLite-based storage for henkan: the conversion
// history learned by in-process sessions and the results of quality runs.
package store

import "time"

// QualityRun is one execution of the quality harness.
type QualityRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Label      string
	CaseCount  int
}

// QualityResult is the outcome of a single evaluation case.
type QualityResult struct {
	RunID    string
	Source   string
	Input    string
	Expected string
	Output   string
	Score    float64
	Error    string
}

// SourceScore is the mean score of one source within a run.
type SourceScore struct {
	Source string
	Cases  int
	Mean   float64
}
