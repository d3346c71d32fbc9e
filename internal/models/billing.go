package models

// BillingCode is one entry of a working code set.
type BillingCode struct {
	// ICD10CA is the primary diagnosis classification code.
	ICD10CA string `json:"icd10ca" validate:"notblank"`
	// CCP is the optional procedure code.
	CCP string `json:"ccp,omitempty"`
	// Label is the human-readable description.
	Label string `json:"label" validate:"notblank"`
	// Confidence is the suggester's score, when one was supplied.
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Clone returns a deep copy of the code.
func (c BillingCode) Clone() BillingCode {
	out := c
	if c.Confidence != nil {
		v := *c.Confidence
		out.Confidence = &v
	}
	return out
}

// CloneCodes deep-copies a code list. A nil input yields an empty, non-nil list.
func CloneCodes(codes []BillingCode) []BillingCode {
	out := make([]BillingCode, len(codes))
	for i, c := range codes {
		out[i] = c.Clone()
	}
	return out
}
