// Package events defines channel lifecycle events and publisher interfaces.
package events

// ChannelStateEvent is emitted whenever a channel changes lifecycle state.
type ChannelStateEvent struct {
	ContextID string `json:"contextId"`
	Address   string `json:"address,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}
