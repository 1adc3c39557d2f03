// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents one URL ingestion job handed to the worker.
type IngestTask struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
}
