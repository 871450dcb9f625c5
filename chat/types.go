package chat

// SourceRef identifies a document that grounded an answer. At most one
// reference per document appears in a response.
type SourceRef struct {
	ID     string
	Source string
}

type Response struct {
	Answer  string
	Sources []SourceRef
}
