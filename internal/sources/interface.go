package sources

import (
	"context"
	"errors"

	"github.com/nuance-network/nuance-validator/internal/models"
)

var (
	// ErrVerification means the ownership proof of a claim did not hold
	ErrVerification = errors.New("account verification failed")

	// ErrContentSource marks a transport or API failure of the platform
	ErrContentSource = errors.New("content source error")
)

// ContentSource defines the contract for a social platform
type ContentSource interface {
	Platform() models.PlatformType

	// VerifyAccountOwnership checks the claim's proof and returns the account
	// it proves, linked to node.
	VerifyAccountOwnership(ctx context.Context, claim models.Claim, node models.Node) (*models.SocialAccount, error)

	DiscoverNewPosts(ctx context.Context, account models.SocialAccount) ([]models.Post, error)
	DiscoverNewInteractions(ctx context.Context, account models.SocialAccount) ([]models.Interaction, error)

	// GetPost returns nil without error when the post does not exist
	GetPost(ctx context.Context, postID string) (*models.Post, error)
}

// Registry selects a content source by platform
type Registry map[models.PlatformType]ContentSource

// NewRegistry indexes sources by their platform
func NewRegistry(sources ...ContentSource) Registry {
	r := make(Registry, len(sources))
	for _, s := range sources {
		r[s.Platform()] = s
	}
	return r
}

// Get returns the source for platform
func (r Registry) Get(platform models.PlatformType) (ContentSource, bool) {
	s, ok := r[platform]
	return s, ok
}
