package esstore

// IndexKind selects the schema an index is provisioned with.
type IndexKind string

const (
	// IndexKindKV is the schema for generic key-value document storage.
	IndexKindKV IndexKind = "kv"
	// IndexKindVector is the schema for embedding-backed hybrid retrieval.
	IndexKindVector IndexKind = "vector"
	// IndexKindDocStatus is the schema for document-processing status.
	IndexKindDocStatus IndexKind = "doc_status"
)

// DropResult reports the outcome of a destructive whole-index operation.
type DropResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// QueryResult is a single hybrid-search hit.
type QueryResult struct {
	// ID is the document identifier.
	ID string

	// Score is the fused RRF score (higher ranks first).
	Score float64

	// Content is the stored chunk text.
	Content string

	// Metadata holds the remaining stored fields.
	Metadata map[string]any
}

// DocStatus is the ingestion lifecycle state of a document. Values are
// caller-supplied; the store does not validate transition legality.
type DocStatus string

const (
	DocStatusPending    DocStatus = "PENDING"
	DocStatusProcessing DocStatus = "PROCESSING"
	DocStatusCompleted  DocStatus = "COMPLETED"
	DocStatusFailed     DocStatus = "FAILED"
)

// KnownStatuses lists every lifecycle state, in processing order.
func KnownStatuses() []DocStatus {
	return []DocStatus{DocStatusPending, DocStatusProcessing, DocStatusCompleted, DocStatusFailed}
}

// DocProcessingStatus tracks the ingestion lifecycle of one document.
// Timestamps are ISO-8601 strings.
type DocProcessingStatus struct {
	FilePath           string         `json:"file_path"`
	Status             DocStatus      `json:"status"`
	ContentSummary     string         `json:"content_summary"`
	ContentLength      int            `json:"content_length"`
	TrackID            string         `json:"track_id"`
	ChunksCount        int            `json:"chunks_count"`
	ChunksList         []string       `json:"chunks_list"`
	Metadata           map[string]any `json:"metadata"`
	ErrorMsg           string         `json:"error_msg"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
	AccreditationLevel int            `json:"accreditation_level"`
	Service            string         `json:"service"`
}

// DocStatusEntry pairs a document id with its processing status.
type DocStatusEntry struct {
	ID string `json:"id"`
	DocProcessingStatus
}

// StatusCountsAll is the synthetic key holding the total document count in
// the map returned by DocStatusStore.StatusCounts.
const StatusCountsAll = "all"
