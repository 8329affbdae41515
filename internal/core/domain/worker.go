package domain

import "time"

// WorkerExit is what the orchestrator learns when a recognition process ends.
type WorkerExit struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	// Err is set when the process could not be waited on or was killed.
	Err error
}

// WorkerResult is the single JSON object a worker prints on stdout.
type WorkerResult struct {
	Status        string  `json:"status"`
	ExtractedText *string `json:"extractedText,omitempty"`
	ConvertedPath *string `json:"convertedPath,omitempty"`
	Error         string  `json:"error,omitempty"`
}

const WorkerStatusCompleted = "completed"
