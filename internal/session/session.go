package session

// FieldIdentifier locates a form field on a page. It is produced by the
// field-detection collaborator and treated as opaque here except for
// equality testing via a Matcher.
type FieldIdentifier struct {
	// ID is the element's id attribute, if it has one
	ID string `json:"id,omitempty"`

	// Name is the element's name attribute, if it has one
	Name string `json:"name,omitempty"`

	// Selector is a generated CSS selector; always present
	Selector string `json:"selector"`
}

// FieldRecord is one recorded field value inside a capture session.
type FieldRecord struct {
	Identifier FieldIdentifier `json:"identifier"`

	// Value is the recorded input value
	Value string `json:"value"`

	// Type is the input type (text, email, checkbox, ...)
	Type string `json:"type"`

	// Label is the human-readable label the detector found, if any
	Label string `json:"label,omitempty"`

	// RecordedAt is the Unix millisecond timestamp of the last write
	RecordedAt int64 `json:"recorded_at"`
}

// Metadata carries extra page information captured at session start.
type Metadata struct {
	PageTitle string `json:"page_title,omitempty"`
}

// CaptureSession is one timestamped recording episode for a page.
// CreatedAt doubles as the session's id and is unique within its page key.
type CaptureSession struct {
	// PageKey is the normalized page address grouping this session
	PageKey string `json:"page_key"`

	// URL is the full address the session was started on
	URL string `json:"url"`

	// CreatedAt is the Unix millisecond creation timestamp and session id
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix millisecond timestamp of the last field write
	UpdatedAt int64 `json:"updated_at"`

	// Fields in first-seen order
	Fields []FieldRecord `json:"fields"`

	Metadata Metadata `json:"metadata"`
}

// Summary is a listing view of a session without its field values.
type Summary struct {
	PageKey     string `json:"page_key"`
	URL         string `json:"url"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	FieldsCount int    `json:"fields_count"`
	PageTitle   string `json:"page_title,omitempty"`
}
