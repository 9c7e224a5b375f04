package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	Role         string `gorm:"not null"`
	IsPremium    bool   `gorm:"not null"`
	ScanCount    int    `gorm:"not null"`
	LastScanDate time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

// ImageFingerprint is a pointer so the composite unique index ignores
// recipes created without one (NULLs never collide in Postgres).
type RecipeModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	AuthorID         string `gorm:"not null;index;uniqueIndex:idx_recipes_author_fingerprint"`
	Title            string `gorm:"not null"`
	Summary          string `gorm:"type:text"`
	Content          string `gorm:"type:text;not null"`
	Icon             string
	ImageFingerprint *string `gorm:"uniqueIndex:idx_recipes_author_fingerprint"`
	StorageKey       string
	ScanMeta         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type RecipeTranslationModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	RecipeID     int64  `gorm:"not null;uniqueIndex:idx_translations_recipe_lang"`
	LanguageCode string `gorm:"not null;uniqueIndex:idx_translations_recipe_lang"`
	Title        string `gorm:"not null"`
	Summary      string `gorm:"type:text"`
	Content      string `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type SharedRecipeModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	RecipeID     int64  `gorm:"not null;uniqueIndex:idx_shares_recipe_user"`
	SharedWithID string `gorm:"not null;index;uniqueIndex:idx_shares_recipe_user"`
	CreatedAt    time.Time `gorm:"not null"`
}
