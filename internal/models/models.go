package models

import "time"

// PlatformType identifies a social platform
type PlatformType string

const (
	PlatformTwitter PlatformType = "twitter"
)

// ProcessingStatus is the lifecycle state shared by posts and interactions.
// pending is the only non-terminal state.
type ProcessingStatus string

const (
	StatusPending  ProcessingStatus = "pending"
	StatusAccepted ProcessingStatus = "accepted"
	StatusRejected ProcessingStatus = "rejected"
	StatusError    ProcessingStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed
func (s ProcessingStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusError:
		return true
	}
	return false
}

// InteractionType is the kind of reaction an interaction represents
type InteractionType string

const (
	InteractionReply InteractionType = "reply"
	InteractionQuote InteractionType = "quote"
)

// Node is a registered participant on the ledger
type Node struct {
	Hotkey string `json:"hotkey"`
	Netuid int    `json:"netuid"`
}

// SocialAccount is a platform account, optionally linked to a node
type SocialAccount struct {
	Platform       PlatformType   `json:"platform"`
	AccountID      string         `json:"account_id"`
	Username       string         `json:"username"`
	NodeHotkey     string         `json:"node_hotkey,omitempty"`
	NodeNetuid     int            `json:"node_netuid,omitempty"`
	Verified       bool           `json:"verified"`
	FollowersCount int            `json:"followers_count"`
	CreatedAt      time.Time      `json:"created_at"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
}

// Post is a piece of content produced by a social account
type Post struct {
	Platform       PlatformType     `json:"platform"`
	PostID         string           `json:"post_id"`
	AccountID      string           `json:"account_id"`
	Content        string           `json:"content"`
	Topics         []string         `json:"topics"`
	CreatedAt      time.Time        `json:"created_at"`
	ExtraData      map[string]any   `json:"extra_data,omitempty"`
	Status         ProcessingStatus `json:"processing_status"`
	ProcessingNote string           `json:"processing_note,omitempty"`
}

// Key returns the system-wide identity of the post
func (p Post) Key() string {
	return ContentKey(p.Platform, p.PostID)
}

// Interaction is a reaction to a post by another account
type Interaction struct {
	InteractionID  string           `json:"interaction_id"`
	Platform       PlatformType     `json:"platform"`
	Type           InteractionType  `json:"interaction_type"`
	AccountID      string           `json:"account_id"`
	PostID         string           `json:"post_id"`
	Content        string           `json:"content"`
	CreatedAt      time.Time        `json:"created_at"`
	ExtraData      map[string]any   `json:"extra_data,omitempty"`
	Status         ProcessingStatus `json:"processing_status"`
	ProcessingNote string           `json:"processing_note,omitempty"`

	// Author is the interacting account as reported by the platform.
	// It is not persisted with the interaction itself.
	Author *SocialAccount `json:"-"`
}

// Key returns the system-wide identity of the interaction
func (i Interaction) Key() string {
	return ContentKey(i.Platform, i.InteractionID)
}

// ParentKey returns the identity of the targeted post
func (i Interaction) ParentKey() string {
	return ContentKey(i.Platform, i.PostID)
}

// Commitment is a raw on-chain claim published by a node
type Commitment struct {
	Hotkey string `json:"hotkey"`
	Netuid int    `json:"netuid"`
	UID    int    `json:"uid"`
	Data   string `json:"data"`
}

// Node returns the identity that published the commitment
func (c Commitment) Node() Node {
	return Node{Hotkey: c.Hotkey, Netuid: c.Netuid}
}

// WeightReport describes one aggregation cycle
type WeightReport struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	WindowStart  time.Time          `json:"window_start"`
	Interactions int                `json:"interactions"`
	Skipped      int                `json:"skipped"`
	Scores       map[string]float64 `json:"scores"`
	Weights      map[string]float64 `json:"weights"`
	Submitted    bool               `json:"submitted"`
}

// Alert represents an urgent operator notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "warning", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentKey builds the (platform, id) identity used across caches and queues
func ContentKey(platform PlatformType, id string) string {
	return string(platform) + ":" + id
}

// CloneExtra returns a shallow copy safe to mutate
func CloneExtra(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
