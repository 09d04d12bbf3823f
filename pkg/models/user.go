package models

// UserSummary is the projection of a user returned by the identity
// collaborator. The core never stores users; it only passes summaries
// through to transport responses.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}
