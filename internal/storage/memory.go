package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nuance-network/nuance-validator/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and dry runs.
type MemoryStore struct {
	mu           sync.RWMutex
	nodes        map[string]models.Node
	accounts     map[string]models.SocialAccount
	posts        map[string]models.Post
	interactions map[string]models.Interaction
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:        make(map[string]models.Node),
		accounts:     make(map[string]models.SocialAccount),
		posts:        make(map[string]models.Post),
		interactions: make(map[string]models.Interaction),
	}
}

func nodeKey(hotkey string, netuid int) string {
	return fmt.Sprintf("%d:%s", netuid, hotkey)
}

func (m *MemoryStore) UpsertNode(_ context.Context, node models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeKey(node.Hotkey, node.Netuid)] = node
	return nil
}

func (m *MemoryStore) GetNode(_ context.Context, hotkey string, netuid int) (*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[nodeKey(hotkey, netuid)]
	if !ok {
		return nil, ErrNotFound
	}
	return &node, nil
}

func (m *MemoryStore) UpsertSocialAccount(_ context.Context, account models.SocialAccount) error {
	key := models.ContentKey(account.Platform, account.AccountID)

	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *models.SocialAccount
	if cur, ok := m.accounts[key]; ok {
		existing = &cur
	}
	merged := mergeAccount(existing, account)
	merged.ExtraData = copyExtra(merged.ExtraData)
	m.accounts[key] = merged
	return nil
}

func (m *MemoryStore) GetSocialAccount(_ context.Context, platform models.PlatformType, accountID string) (*models.SocialAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[models.ContentKey(platform, accountID)]
	if !ok {
		return nil, ErrNotFound
	}
	account.ExtraData = copyExtra(account.ExtraData)
	return &account, nil
}

func (m *MemoryStore) UpsertPost(_ context.Context, post models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *models.Post
	if cur, ok := m.posts[post.Key()]; ok {
		existing = &cur
	}
	m.posts[post.Key()] = clonePost(mergePost(existing, post))
	return nil
}

func (m *MemoryStore) GetPostByID(_ context.Context, platform models.PlatformType, postID string) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	post, ok := m.posts[models.ContentKey(platform, postID)]
	if !ok {
		return nil, ErrNotFound
	}
	post = clonePost(post)
	return &post, nil
}

func (m *MemoryStore) UpsertInteraction(_ context.Context, interaction models.Interaction) error {
	interaction.Author = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *models.Interaction
	if cur, ok := m.interactions[interaction.Key()]; ok {
		existing = &cur
	}
	merged := mergeInteraction(existing, interaction)
	merged.ExtraData = copyExtra(merged.ExtraData)
	m.interactions[interaction.Key()] = merged
	return nil
}

func (m *MemoryStore) GetInteractionByID(_ context.Context, platform models.PlatformType, interactionID string) (*models.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	interaction, ok := m.interactions[models.ContentKey(platform, interactionID)]
	if !ok {
		return nil, ErrNotFound
	}
	interaction.ExtraData = copyExtra(interaction.ExtraData)
	return &interaction, nil
}

func (m *MemoryStore) GetRecentAcceptedInteractions(_ context.Context, since time.Time) ([]models.Interaction, error) {
	m.mu.RLock()
	var out []models.Interaction
	for _, interaction := range m.interactions {
		if interaction.Status != models.StatusAccepted || interaction.CreatedAt.Before(since) {
			continue
		}
		interaction.ExtraData = copyExtra(interaction.ExtraData)
		out = append(out, interaction)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (m *MemoryStore) ListAccountsByNode(_ context.Context, hotkey string, netuid int) ([]models.SocialAccount, error) {
	m.mu.RLock()
	var out []models.SocialAccount
	for _, account := range m.accounts {
		if account.NodeHotkey != hotkey || account.NodeNetuid != netuid {
			continue
		}
		account.ExtraData = copyExtra(account.ExtraData)
		out = append(out, account)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (m *MemoryStore) ListPosts(_ context.Context, filter PostFilter) ([]models.Post, error) {
	m.mu.RLock()
	var out []models.Post
	for _, post := range m.posts {
		if filter.matches(post) {
			out = append(out, clonePost(post))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (m *MemoryStore) ListInteractions(_ context.Context, filter InteractionFilter) ([]models.Interaction, error) {
	m.mu.RLock()
	var out []models.Interaction
	for _, interaction := range m.interactions {
		if filter.matches(interaction) {
			interaction.ExtraData = copyExtra(interaction.ExtraData)
			out = append(out, interaction)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func copyExtra(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	return models.CloneExtra(in)
}

func clonePost(p models.Post) models.Post {
	p.Topics = append([]string(nil), p.Topics...)
	p.ExtraData = copyExtra(p.ExtraData)
	return p
}
