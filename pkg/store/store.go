package store

import (
	"errors"
	"time"

	"recipesnap/pkg/domain"
)

var (
	// ErrDuplicateImage indicates the (author, fingerprint) pair already
	// has a recipe. Callers convert it into the duplicate outcome.
	ErrDuplicateImage = errors.New("duplicate image for author")

	// ErrQuotaExhausted indicates the in-transaction recheck found the
	// user already at the tier limit.
	ErrQuotaExhausted = errors.New("scan quota exhausted")
)

// ChargedCreate describes the single transactional write of an
// ingestion: insert the recipe and charge one scan against the author,
// both or neither.
type ChargedCreate struct {
	Recipe domain.Recipe
	// Limit is the tier limit rechecked while holding the user row.
	Limit int
	// EnforceLimit is false for admins, who are charged but never rejected.
	EnforceLimit bool
	// Now becomes the author's new lastScanDate.
	Now time.Time
}

// Store defines persistence operations for users, recipes, shares, and
// cached translations.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	// ResetScanCount durably zeroes the monthly counter before a
	// rollover admission decision is made.
	ResetScanCount(userID string, at time.Time) error
	SetPremium(userID string, premium bool) error

	// recipes
	CreateRecipeCharged(ChargedCreate) (domain.Recipe, error)
	GetRecipe(id int64) (domain.Recipe, bool, error)
	GetRecipeByFingerprint(authorID, fingerprint string) (domain.Recipe, bool, error)
	ListRecipesByAuthor(authorID string) ([]domain.Recipe, error)
	// UpdateRecipe edits the author-mutable fields and drops any cached
	// translations in the same transaction.
	UpdateRecipe(id int64, title, summary, content, icon string) error
	SetRecipeStorageKey(id int64, key string) error

	// shares
	ShareRecipe(recipeID int64, sharedWithID string) error
	IsSharedWith(recipeID int64, userID string) (bool, error)
	ListSharedRecipes(userID string) ([]domain.Recipe, error)

	// translation cache
	GetTranslation(recipeID int64, languageCode string) (domain.RecipeTranslation, bool, error)
	UpsertTranslation(domain.RecipeTranslation) error
}
