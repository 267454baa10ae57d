package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type nodeRow struct {
	Hotkey    string `gorm:"primaryKey"`
	Netuid    int    `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (nodeRow) TableName() string { return "nodes" }

type accountRow struct {
	Platform         string `gorm:"primaryKey"`
	AccountID        string `gorm:"primaryKey"`
	Username         string
	NodeHotkey       string `gorm:"index"`
	NodeNetuid       int
	Verified         bool
	FollowersCount   int
	AccountCreatedAt time.Time
	ExtraData        map[string]any `gorm:"serializer:json"`
	UpdatedAt        time.Time
}

func (accountRow) TableName() string { return "social_accounts" }

type postRow struct {
	Platform       string `gorm:"primaryKey"`
	PostID         string `gorm:"primaryKey"`
	AccountID      string `gorm:"index"`
	Content        string
	Topics         []string `gorm:"serializer:json"`
	PostCreatedAt  time.Time      `gorm:"index"`
	ExtraData      map[string]any `gorm:"serializer:json"`
	Status         string         `gorm:"index"`
	ProcessingNote string
	UpdatedAt      time.Time
}

func (postRow) TableName() string { return "posts" }

type interactionRow struct {
	Platform             string `gorm:"primaryKey"`
	InteractionID        string `gorm:"primaryKey"`
	Type                 string
	AccountID            string `gorm:"index"`
	PostID               string `gorm:"index"`
	Content              string
	InteractionCreatedAt time.Time      `gorm:"index"`
	ExtraData            map[string]any `gorm:"serializer:json"`
	Status               string         `gorm:"index"`
	ProcessingNote       string
	UpdatedAt            time.Time
}

func (interactionRow) TableName() string { return "interactions" }

// GormStore persists records in sqlite or postgres
type GormStore struct {
	db       *gorm.DB
	lockRows bool
}

// Ensure GormStore implements Store
var _ Store = (*GormStore)(nil)

// OpenDatabase opens a sqlite:// or postgres:// database URL
func OpenDatabase(dburl string, debug bool) (*gorm.DB, error) {
	var dial gorm.Dialector
	isSqlite := false
	openConns := 10

	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		path := strings.TrimPrefix(dburl, "sqlite://")
		if !strings.Contains(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dial = sqlite.Open(path)
		openConns = 1
		isSqlite = true
	case strings.HasPrefix(dburl, "postgres://"), strings.HasPrefix(dburl, "postgresql://"):
		dial = postgres.Open(dburl)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", strings.SplitN(dburl, "://", 2)[0])
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	return db, nil
}

// NewGormStore migrates the schema and returns a ready store
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&nodeRow{}, &accountRow{}, &postRow{}, &interactionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logrus.Debug("Database schema migrated")
	// sqlite serializes writers on its own and rejects FOR UPDATE
	return &GormStore{db: db, lockRows: db.Dialector.Name() == "postgres"}, nil
}

func (s *GormStore) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.lockRows {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func storeErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

func (s *GormStore) UpsertNode(ctx context.Context, node models.Node) error {
	row := nodeRow{Hotkey: node.Hotkey, Netuid: node.Netuid, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return storeErr("upsert node", err)
	}
	return nil
}

func (s *GormStore) GetNode(ctx context.Context, hotkey string, netuid int) (*models.Node, error) {
	var row nodeRow
	if err := s.db.WithContext(ctx).Where("hotkey = ? AND netuid = ?", hotkey, netuid).First(&row).Error; err != nil {
		return nil, storeErr("get node", err)
	}
	return &models.Node{Hotkey: row.Hotkey, Netuid: row.Netuid}, nil
}

func (s *GormStore) UpsertSocialAccount(ctx context.Context, account models.SocialAccount) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *models.SocialAccount
		var cur accountRow
		err := s.forUpdate(tx).Where("platform = ? AND account_id = ?", string(account.Platform), account.AccountID).First(&cur).Error
		switch {
		case err == nil:
			acct := cur.toModel()
			existing = &acct
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		row := accountFromModel(mergeAccount(existing, account))
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
	if err != nil {
		return storeErr("upsert social account", err)
	}
	return nil
}

func (s *GormStore) GetSocialAccount(ctx context.Context, platform models.PlatformType, accountID string) (*models.SocialAccount, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Where("platform = ? AND account_id = ?", string(platform), accountID).First(&row).Error; err != nil {
		return nil, storeErr("get social account", err)
	}
	acct := row.toModel()
	return &acct, nil
}

func (s *GormStore) UpsertPost(ctx context.Context, post models.Post) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *models.Post
		var cur postRow
		err := s.forUpdate(tx).Where("platform = ? AND post_id = ?", string(post.Platform), post.PostID).First(&cur).Error
		switch {
		case err == nil:
			p := cur.toModel()
			existing = &p
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		row := postFromModel(mergePost(existing, post))
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
	if err != nil {
		return storeErr("upsert post", err)
	}
	return nil
}

func (s *GormStore) GetPostByID(ctx context.Context, platform models.PlatformType, postID string) (*models.Post, error) {
	var row postRow
	if err := s.db.WithContext(ctx).Where("platform = ? AND post_id = ?", string(platform), postID).First(&row).Error; err != nil {
		return nil, storeErr("get post", err)
	}
	p := row.toModel()
	return &p, nil
}

func (s *GormStore) UpsertInteraction(ctx context.Context, interaction models.Interaction) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *models.Interaction
		var cur interactionRow
		err := s.forUpdate(tx).Where("platform = ? AND interaction_id = ?", string(interaction.Platform), interaction.InteractionID).First(&cur).Error
		switch {
		case err == nil:
			i := cur.toModel()
			existing = &i
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		row := interactionFromModel(mergeInteraction(existing, interaction))
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
	if err != nil {
		return storeErr("upsert interaction", err)
	}
	return nil
}

func (s *GormStore) GetInteractionByID(ctx context.Context, platform models.PlatformType, interactionID string) (*models.Interaction, error) {
	var row interactionRow
	if err := s.db.WithContext(ctx).Where("platform = ? AND interaction_id = ?", string(platform), interactionID).First(&row).Error; err != nil {
		return nil, storeErr("get interaction", err)
	}
	i := row.toModel()
	return &i, nil
}

func (s *GormStore) GetRecentAcceptedInteractions(ctx context.Context, since time.Time) ([]models.Interaction, error) {
	var rows []interactionRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND interaction_created_at >= ?", string(models.StatusAccepted), since.UTC()).
		Order("interaction_created_at ASC").
		Order("platform ASC").
		Order("interaction_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("get recent accepted interactions", err)
	}

	out := make([]models.Interaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *GormStore) ListAccountsByNode(ctx context.Context, hotkey string, netuid int) ([]models.SocialAccount, error) {
	var rows []accountRow
	err := s.db.WithContext(ctx).
		Where("node_hotkey = ? AND node_netuid = ?", hotkey, netuid).
		Order("platform ASC").
		Order("account_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list accounts by node", err)
	}

	out := make([]models.SocialAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *GormStore) ListPosts(ctx context.Context, filter PostFilter) ([]models.Post, error) {
	q := s.db.WithContext(ctx).Model(&postRow{})
	if filter.Platform != "" {
		q = q.Where("platform = ?", string(filter.Platform))
	}
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q = q.Where("post_created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("post_created_at < ?", filter.Until.UTC())
	}

	var rows []postRow
	if err := q.Order("post_created_at DESC").Order("platform ASC").Order("post_id ASC").Find(&rows).Error; err != nil {
		return nil, storeErr("list posts", err)
	}

	out := make([]models.Post, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (s *GormStore) ListInteractions(ctx context.Context, filter InteractionFilter) ([]models.Interaction, error) {
	q := s.db.WithContext(ctx).Model(&interactionRow{})
	if filter.Platform != "" {
		q = q.Where("platform = ?", string(filter.Platform))
	}
	if filter.PostID != "" {
		q = q.Where("post_id = ?", filter.PostID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		q = q.Where("interaction_created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("interaction_created_at < ?", filter.Until.UTC())
	}

	var rows []interactionRow
	if err := q.Order("interaction_created_at DESC").Order("platform ASC").Order("interaction_id ASC").Find(&rows).Error; err != nil {
		return nil, storeErr("list interactions", err)
	}

	out := make([]models.Interaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func accountFromModel(a models.SocialAccount) accountRow {
	return accountRow{
		Platform:         string(a.Platform),
		AccountID:        a.AccountID,
		Username:         a.Username,
		NodeHotkey:       a.NodeHotkey,
		NodeNetuid:       a.NodeNetuid,
		Verified:         a.Verified,
		FollowersCount:   a.FollowersCount,
		AccountCreatedAt: a.CreatedAt.UTC(),
		ExtraData:        a.ExtraData,
	}
}

func (r accountRow) toModel() models.SocialAccount {
	return models.SocialAccount{
		Platform:       models.PlatformType(r.Platform),
		AccountID:      r.AccountID,
		Username:       r.Username,
		NodeHotkey:     r.NodeHotkey,
		NodeNetuid:     r.NodeNetuid,
		Verified:       r.Verified,
		FollowersCount: r.FollowersCount,
		CreatedAt:      r.AccountCreatedAt.UTC(),
		ExtraData:      r.ExtraData,
	}
}

func postFromModel(p models.Post) postRow {
	return postRow{
		Platform:       string(p.Platform),
		PostID:         p.PostID,
		AccountID:      p.AccountID,
		Content:        p.Content,
		Topics:         p.Topics,
		PostCreatedAt:  p.CreatedAt.UTC(),
		ExtraData:      p.ExtraData,
		Status:         string(p.Status),
		ProcessingNote: p.ProcessingNote,
	}
}

func (r postRow) toModel() models.Post {
	return models.Post{
		Platform:       models.PlatformType(r.Platform),
		PostID:         r.PostID,
		AccountID:      r.AccountID,
		Content:        r.Content,
		Topics:         r.Topics,
		CreatedAt:      r.PostCreatedAt.UTC(),
		ExtraData:      r.ExtraData,
		Status:         models.ProcessingStatus(r.Status),
		ProcessingNote: r.ProcessingNote,
	}
}

func interactionFromModel(i models.Interaction) interactionRow {
	return interactionRow{
		Platform:             string(i.Platform),
		InteractionID:        i.InteractionID,
		Type:                 string(i.Type),
		AccountID:            i.AccountID,
		PostID:               i.PostID,
		Content:              i.Content,
		InteractionCreatedAt: i.CreatedAt.UTC(),
		ExtraData:            i.ExtraData,
		Status:               string(i.Status),
		ProcessingNote:       i.ProcessingNote,
	}
}

func (r interactionRow) toModel() models.Interaction {
	return models.Interaction{
		InteractionID:  r.InteractionID,
		Platform:       models.PlatformType(r.Platform),
		Type:           models.InteractionType(r.Type),
		AccountID:      r.AccountID,
		PostID:         r.PostID,
		Content:        r.Content,
		CreatedAt:      r.InteractionCreatedAt.UTC(),
		ExtraData:      r.ExtraData,
		Status:         models.ProcessingStatus(r.Status),
		ProcessingNote: r.ProcessingNote,
	}
}
