package domain

// RawEmail is a provider message in the Gmail API "full" shape.
// JSON tags match the Gmail REST payload so exported mailboxes can be read directly.
type RawEmail struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId,omitempty"`
	InternalDate string   `json:"internalDate,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
	Payload      *RawPart `json:"payload,omitempty"`
}

// RawPart is one MIME part of a RawEmail.
type RawPart struct {
	MimeType string      `json:"mimeType,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Headers  []RawHeader `json:"headers,omitempty"`
	Body     *RawBody    `json:"body,omitempty"`
	Parts    []*RawPart  `json:"parts,omitempty"`
}

// RawHeader is a single MIME header.
type RawHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawBody holds base64url encoded part data.
type RawBody struct {
	Data string `json:"data,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// EmailRecord is a parsed email. Immutable once produced by the parser.
type EmailRecord struct {
	ID           string `json:"id"`
	InternalDate string `json:"internalDate"`
	From         string `json:"from"`
	Subject      string `json:"subject"`
	BodyText     string `json:"bodyText"`
}

// RelevanceTier is the coarse financial relevance bucket of an email.
type RelevanceTier string

const (
	TierDefinitelyFinancial RelevanceTier = "definitely_financial"
	TierMaybeFinancial      RelevanceTier = "maybe_financial"
	TierProbablyNot         RelevanceTier = "probably_not"
)

func (t RelevanceTier) String() string {
	return string(t)
}

// Relevant reports whether emails of this tier go to extraction.
func (t RelevanceTier) Relevant() bool {
	return t == TierDefinitelyFinancial || t == TierMaybeFinancial
}

// Partition is the result of classifying a batch of emails.
// Every input email appears in exactly one bucket, in input order.
type Partition struct {
	DefinitelyFinancial []EmailRecord `json:"definitely_financial"`
	MaybeFinancial      []EmailRecord `json:"maybe_financial"`
	ProbablyNot         []EmailRecord `json:"probably_not"`
}

// Relevant returns definite then maybe emails.
func (p *Partition) Relevant() []EmailRecord {
	out := make([]EmailRecord, 0, len(p.DefinitelyFinancial)+len(p.MaybeFinancial))
	out = append(out, p.DefinitelyFinancial...)
	return append(out, p.MaybeFinancial...)
}

// Total returns the number of partitioned emails.
func (p *Partition) Total() int {
	return len(p.DefinitelyFinancial) + len(p.MaybeFinancial) + len(p.ProbablyNot)
}

// ClassificationStats summarizes a Partition.
type ClassificationStats struct {
	Total                 int     `json:"total_emails"`
	DefinitelyFinancial   int     `json:"definitely_financial"`
	MaybeFinancial        int     `json:"maybe_financial"`
	ProbablyNot           int     `json:"probably_not"`
	WillProcessWithAI     int     `json:"will_process_with_ai"`
	AIProcessingReduction float64 `json:"ai_processing_reduction"`
}
