package domain

// Contractor is an independent field worker. Records are owned by the
// onboarding flow; the dispatch core only reads them.
type Contractor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Skills     []string `json:"skills"`
	IsActive   bool     `json:"isActive"`
	IsVerified bool     `json:"isVerified"`
}
