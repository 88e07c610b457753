package domain

// DocPage is one section of the documentation corpus. It only lives for the
// duration of a re-index run.
type DocPage struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Chunk is the atomic retrievable unit. IDs are derived from the source URL and
// the chunk position, so re-indexing identical content yields identical IDs.
type Chunk struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	URL     string    `json:"url"`
	Vector  []float32 `json:"vector,omitempty"`
}
