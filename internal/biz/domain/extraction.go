package domain

// ExtractedItem is one structured item produced by the LLM from a message.
// Lookup fields are free text at this stage; resolution to identifiers
// happens afterwards.
type ExtractedItem struct {
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Manufacturer string   `json:"manufacturer"`
	PartNumber   string   `json:"part_number"`
	Quantity     int      `json:"quantity"`
	Unit         string   `json:"unit"`
	Price        *float64 `json:"price"`
	Currency     string   `json:"currency"`
	Condition    string   `json:"condition"`

	// Watch-specific optional attributes.
	Model        string `json:"model"`
	ReferenceNum string `json:"reference_number"`
	Year         int    `json:"year"`
	BoxPapers    string `json:"box_papers"`
}

// ExtractionResult is the LLM's structured output for one message. It is
// never persisted as-is; the pipeline turns it into zero or more listings.
// Token usage is accounted separately (see llm.Usage) and deliberately not
// part of this payload.
type ExtractionResult struct {
	Intent          string          `json:"intent"`
	Items           []ExtractedItem `json:"items"`
	UnresolvedTerms []string        `json:"unresolved_terms"`
	Confidence      float64         `json:"confidence"`
	Explanation     string          `json:"explanation"`
}

// IsListing reports whether the extraction produced anything worth storing.
// Pure chit-chat yields no items and is skipped.
func (r *ExtractionResult) IsListing() bool {
	return len(r.Items) > 0
}
