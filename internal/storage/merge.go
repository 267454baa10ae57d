package storage

import "github.com/nuance-network/nuance-validator/internal/models"

// mergePost applies an incoming write on top of the stored record.
// A pending write never replaces a terminal one.
func mergePost(existing *models.Post, incoming models.Post) models.Post {
	if existing == nil {
		return incoming
	}
	if existing.Status.IsTerminal() && !incoming.Status.IsTerminal() {
		return *existing
	}
	if incoming.ExtraData == nil {
		incoming.ExtraData = existing.ExtraData
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = existing.CreatedAt
	}
	return incoming
}

func mergeInteraction(existing *models.Interaction, incoming models.Interaction) models.Interaction {
	if existing == nil {
		return incoming
	}
	if existing.Status.IsTerminal() && !incoming.Status.IsTerminal() {
		return *existing
	}
	if incoming.ExtraData == nil {
		incoming.ExtraData = existing.ExtraData
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = existing.CreatedAt
	}
	return incoming
}

// mergeAccount keeps the node link and verification state when the incoming
// write carries none, e.g. when an interaction author is refreshed.
func mergeAccount(existing *models.SocialAccount, incoming models.SocialAccount) models.SocialAccount {
	if existing == nil {
		return incoming
	}
	if incoming.NodeHotkey == "" {
		incoming.NodeHotkey = existing.NodeHotkey
		incoming.NodeNetuid = existing.NodeNetuid
		incoming.Verified = existing.Verified
	}
	if incoming.Username == "" {
		incoming.Username = existing.Username
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = existing.CreatedAt
	}
	if incoming.FollowersCount == 0 {
		incoming.FollowersCount = existing.FollowersCount
	}
	if incoming.ExtraData == nil {
		incoming.ExtraData = existing.ExtraData
	}
	return incoming
}
