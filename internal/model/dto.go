package model

// IngestRequest 是 POST /ingest-url 的请求体。
type IngestRequest struct {
	URL      string         `json:"url" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// IngestResponse 是 POST /ingest-url 的响应体。
type IngestResponse struct {
	JobID                string    `json:"job_id"`
	Status               JobStatus `json:"status"`
	Message              string    `json:"message"`
	EstimatedTimeSeconds int       `json:"estimated_time_seconds"`
}

// JobStatusResponse 是 GET /status/:job_id 的响应体。
type JobStatusResponse struct {
	JobID                 string    `json:"job_id"`
	Status                JobStatus `json:"status"`
	URL                   string    `json:"url"`
	CreatedAt             UTCTime   `json:"created_at"`
	CompletedAt           *UTCTime  `json:"completed_at"`
	ProcessingTimeSeconds *float64  `json:"processing_time_seconds"`
	ChunkCount            int       `json:"chunk_count"`
	ErrorMessage          *string   `json:"error_message"`
}

// NewJobStatusResponse 将任务记录转换为对外视图。
func NewJobStatusResponse(j *IngestionJob) JobStatusResponse {
	chunks := 0
	if j.ChunkCount != nil {
		chunks = *j.ChunkCount
	}
	return JobStatusResponse{
		JobID:                 j.ID,
		Status:                j.Status,
		URL:                   j.URL,
		CreatedAt:             UTCTime(j.CreatedAt),
		CompletedAt:           NewUTCTime(j.CompletedAt),
		ProcessingTimeSeconds: j.ProcessingTimeSeconds,
		ChunkCount:            chunks,
		ErrorMessage:          j.ErrorMessage,
	}
}

// QueryRequest 是 POST /query 的请求体。TopK 缺省时使用配置的默认值。
type QueryRequest struct {
	Question string         `json:"question"`
	TopK     *int           `json:"top_k"`
	Filters  map[string]any `json:"filters"`
}

// SourceDocument 是答案引用的一段来源。
type SourceDocument struct {
	Text           string  `json:"text"`
	SourceURL      string  `json:"source_url"`
	RelevanceScore float64 `json:"relevance_score"`
}

// QueryMetadata 描述一次查询的执行信息。
type QueryMetadata struct {
	ChunksRetrieved  int    `json:"chunks_retrieved"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	EmbeddingModel   string `json:"embedding_model"`
	LLMModel         string `json:"llm_model"`
	TopK             int    `json:"top_k"`
	Timestamp        string `json:"timestamp"`
}

// QueryResponse 是 POST /query 的响应体。
type QueryResponse struct {
	Answer   string           `json:"answer"`
	Sources  []SourceDocument `json:"sources"`
	Metadata QueryMetadata    `json:"metadata"`
}

// ServiceHealth 是单个依赖的健康状态。
type ServiceHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HealthResponse 是 GET /health 的响应体。
type HealthResponse struct {
	Status    string                   `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp UTCTime                  `json:"timestamp"`
	Version   string                   `json:"version"`
}
