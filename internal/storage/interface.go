package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nuance-network/nuance-validator/internal/models"
)

var (
	// ErrStore marks a connectivity or constraint failure in the store
	ErrStore = errors.New("store error")

	// ErrNotFound is returned by lookups that match no record
	ErrNotFound = errors.New("record not found")
)

// Store is the single source of truth for nodes, accounts, posts and interactions.
// Records are upserted, never deleted. Upserts are atomic per key and never
// move a terminal processing status back to pending.
type Store interface {
	UpsertNode(ctx context.Context, node models.Node) error
	GetNode(ctx context.Context, hotkey string, netuid int) (*models.Node, error)

	UpsertSocialAccount(ctx context.Context, account models.SocialAccount) error
	GetSocialAccount(ctx context.Context, platform models.PlatformType, accountID string) (*models.SocialAccount, error)

	UpsertPost(ctx context.Context, post models.Post) error
	GetPostByID(ctx context.Context, platform models.PlatformType, postID string) (*models.Post, error)

	UpsertInteraction(ctx context.Context, interaction models.Interaction) error
	GetInteractionByID(ctx context.Context, platform models.PlatformType, interactionID string) (*models.Interaction, error)

	// GetRecentAcceptedInteractions returns accepted interactions created at or
	// after since, oldest first.
	GetRecentAcceptedInteractions(ctx context.Context, since time.Time) ([]models.Interaction, error)

	// ListAccountsByNode returns the accounts linked to a node, by account id
	ListAccountsByNode(ctx context.Context, hotkey string, netuid int) ([]models.SocialAccount, error)

	// ListPosts and ListInteractions return matching records newest first
	ListPosts(ctx context.Context, filter PostFilter) ([]models.Post, error)
	ListInteractions(ctx context.Context, filter InteractionFilter) ([]models.Interaction, error)
}

// PostFilter narrows ListPosts. Zero fields match everything; Since is
// inclusive and Until exclusive.
type PostFilter struct {
	Platform  models.PlatformType
	AccountID string
	Status    models.ProcessingStatus
	Since     time.Time
	Until     time.Time
}

// InteractionFilter narrows ListInteractions like PostFilter
type InteractionFilter struct {
	Platform models.PlatformType
	PostID   string
	Status   models.ProcessingStatus
	Since    time.Time
	Until    time.Time
}

func inWindow(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	return until.IsZero() || t.Before(until)
}

func (f PostFilter) matches(p models.Post) bool {
	return (f.Platform == "" || p.Platform == f.Platform) &&
		(f.AccountID == "" || p.AccountID == f.AccountID) &&
		(f.Status == "" || p.Status == f.Status) &&
		inWindow(p.CreatedAt, f.Since, f.Until)
}

func (f InteractionFilter) matches(i models.Interaction) bool {
	return (f.Platform == "" || i.Platform == f.Platform) &&
		(f.PostID == "" || i.PostID == f.PostID) &&
		(f.Status == "" || i.Status == f.Status) &&
		inWindow(i.CreatedAt, f.Since, f.Until)
}

// BlobStore defines the contract for object storage
type BlobStore interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
