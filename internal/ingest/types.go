// Package ingest implements IngestRequestMgr from section 4.6 of the
// design: the worker-side queue-of-queues scheduling asynchronous bulk
// contribution loads per database, and the boot-time recovery algorithm
// that reclassifies contributions interrupted by a restart. Grounded on
// the teacher's condition-variable-style blocking dequeue pattern
// generalized from a single global queue to one FIFO per database.
package ingest

// Status is a TransactionContribInfo's lifecycle stage.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
	StatusCancelled  Status = "CANCELLED"
	StatusReadFailed  Status = "READ_FAILED"
	StatusStartFailed Status = "START_FAILED"
	StatusLoadFailed  Status = "LOAD_FAILED"
)

// Dialect is the CSV dialect for one contribution; empty fields take the
// documented defaults at request-creation time (internal/httpapi applies
// these before constructing a TransactionContribInfo).
type Dialect struct {
	FieldsTerminatedBy string `json:"fields_terminated_by"`
	FieldsEnclosedBy   string `json:"fields_enclosed_by"`
	FieldsEscapedBy    string `json:"fields_escaped_by"`
	LinesTerminatedBy  string `json:"lines_terminated_by"`
}

// DefaultDialect is substituted for any empty dialect field.
var DefaultDialect = Dialect{
	FieldsTerminatedBy: ",",
	FieldsEnclosedBy:   `"`,
	FieldsEscapedBy:    `\`,
	LinesTerminatedBy:  "\n",
}

// TransactionContribInfo is the persisted ingest record from section 3:
// the crash-recovery ground truth is the monotone timestamp progression
// CreateTime -> StartTime -> ReadTime -> LoadTime (milliseconds since
// epoch, 0 if unreached).
type TransactionContribInfo struct {
	ID            string  `json:"id"`
	TransactionID uint32  `json:"transaction_id"`
	Database      string  `json:"database"`
	Table         string  `json:"table"`
	Chunk         uint32  `json:"chunk"`
	Overlap       bool    `json:"overlap"`
	URL           string  `json:"url"`
	CharsetName   string  `json:"charset_name"`
	Dialect       Dialect `json:"dialect"`

	HTTPMethod  string            `json:"http_method,omitempty"`
	HTTPData    string            `json:"http_data,omitempty"`
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`

	MaxNumWarnings int `json:"max_num_warnings"`
	MaxRetries     int `json:"max_retries"`
	RetryCount     int `json:"retry_count"`
	RetryAllowed   bool `json:"retry_allowed"`
	LastError      string `json:"last_error,omitempty"`

	CreateTimeMs int64 `json:"create_time"`
	StartTimeMs  int64 `json:"start_time"`
	ReadTimeMs   int64 `json:"read_time"`
	LoadTimeMs   int64 `json:"load_time"`

	RowsLoaded int64 `json:"rows_loaded"`
	BytesRead  int64 `json:"bytes_read"`

	TmpFile string `json:"tmp_file,omitempty"`

	Status Status `json:"status"`

	cancelRequested bool
}
