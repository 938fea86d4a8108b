package models

// ChannelType represents the kind of conversation a channel holds
type ChannelType string

// Channel type constants
const (
	ChannelTypeText  ChannelType = "TEXT"
	ChannelTypeDM    ChannelType = "DM"
	ChannelTypeGroup ChannelType = "GROUP"
)

// Channel represents a cached channel
type Channel struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type ChannelType `json:"type"`
}
