package models

import "fmt"

// ConversationKey identifies a conversation between one user and one
// vehicle. The durable message log and the push channel are both keyed by
// this pair.
type ConversationKey struct {
	VehicleID string
	UserID    string
}

// Validate checks that both components of the key are present.
func (k ConversationKey) Validate() error {
	if k.VehicleID == "" {
		return fmt.Errorf("conversation key: vehicle id required")
	}
	if k.UserID == "" {
		return fmt.Errorf("conversation key: user id required")
	}
	return nil
}

// String renders the key for logging and subscription routing.
func (k ConversationKey) String() string {
	return k.VehicleID + "/" + k.UserID
}
