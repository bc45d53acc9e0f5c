package models

// Format identifies the markup of a source manual.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Document is a raw manual as read from disk. Immutable once created.
type Document struct {
	ID         string
	SourcePath string
	RawText    string
	Format     Format
}

// Heading is an entry of the heading map produced by normalization.
// Offset is a byte offset into the normalized text.
type Heading struct {
	Offset int
	Text   string
	Level  int
}

// Passage is a bounded chunk of normalized text, the unit of retrieval
// and citation. Start/End are byte offsets into the normalized text,
// including the leading overlap shared with the previous passage.
type Passage struct {
	ID          string
	DocumentID  string
	SourcePath  string
	Ordinal     int
	Text        string
	Start       int
	End         int
	HeadingPath string
	Model       string // detected car model, may be empty
}

// IndexEntry is the persisted unit of the vector store.
type IndexEntry struct {
	Passage Passage
	Vector  []float32
}

// Hit is a nearest-neighbor match returned by a vector store query.
type Hit struct {
	Passage Passage
	Score   float32
}

// RetrievalResult is a hit that cleared the score threshold,
// with its 1-based rank.
type RetrievalResult struct {
	Passage Passage
	Score   float32
	Rank    int
}

// Citation points a generated answer back at a passage.
// Marker is the [n] index used inside the answer text.
type Citation struct {
	Marker      int
	PassageID   string
	SourcePath  string
	HeadingPath string
	Model       string
}

// Answer is the result of one question. NoEvidence marks the sentinel
// returned when retrieval found nothing above the threshold; the
// generator is never invoked in that case.
type Answer struct {
	Text       string
	Citations  []Citation
	Confidence float32
	NoEvidence bool
}
