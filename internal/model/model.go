package model

import (
	"errors"
	"time"
)

type JobKind string

const (
	JobTrain    JobKind = "train"
	JobDownload JobKind = "download"
)

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

var ErrNotFound = errors.New("not found")

// Job is one dispatched training or download run.
//
// - Suffix distinguishes training configurations of the same model; empty for downloads.
// - FinishedAt is nil while the job is running.
type Job struct {
	ID         string     `json:"id"`
	Kind       JobKind    `json:"kind"`
	ModelID    string     `json:"modelId"`
	Suffix     string     `json:"suffix,omitempty"`
	Status     JobStatus  `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobPatch is used for partial updates.
type JobPatch struct {
	Status     *string
	FinishedAt *time.Time
	Error      *string
}

// SpeechModel is a downloadable prebuilt model archive.
type SpeechModel struct {
	ID          string `json:"id"`
	Language    string `json:"language"`
	Description string `json:"description"`
	URL         string `json:"url"`
	SizeBytes   uint64 `json:"sizeBytes"`
}
