package models

type PaginationRequest struct {
	// After is the id of the last message the client already holds.
	After string `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type PaginationResponse struct {
	Limit     int    `json:"limit"`
	HasMore   bool   `json:"has_more"`
	NextAfter string `json:"next_after,omitempty"`
	Count     int    `json:"count"`
}
