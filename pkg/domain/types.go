package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         UserRole  `json:"role"`
	IsPremium    bool      `json:"isPremium"`
	ScanCount    int       `json:"scanCount"`
	LastScanDate time.Time `json:"lastScanDate"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RecipeSource describes where the recipe text came from.
type RecipeSource string

const (
	SourceImage RecipeSource = "image"
	SourcePDF   RecipeSource = "pdf"
	SourceURL   RecipeSource = "url"
)

// ScanMeta captures provenance of a single ingestion.
type ScanMeta struct {
	Source           RecipeSource `json:"source"`
	OriginalFilename string       `json:"originalFilename,omitempty"`
	SourceURL        string       `json:"sourceUrl,omitempty"`
	ExtractedChars   int          `json:"extractedChars"`
	Model            string       `json:"model,omitempty"`
}

type Recipe struct {
	ID               int64     `json:"id"`
	AuthorID         string    `json:"authorId"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary,omitempty"`
	Content          string    `json:"content"`
	Icon             string    `json:"icon,omitempty"`
	ImageFingerprint string    `json:"-"`
	StorageKey       string    `json:"-"`
	ScanMeta         ScanMeta  `json:"scanMeta"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// RecipeTranslation is the cached result of translating a recipe into
// one language. Unique per (RecipeID, LanguageCode).
type RecipeTranslation struct {
	RecipeID     int64     `json:"recipeId"`
	LanguageCode string    `json:"languageCode"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SharedRecipe grants a second user read access to a recipe.
type SharedRecipe struct {
	RecipeID     int64     `json:"recipeId"`
	SharedWithID string    `json:"sharedWithId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// QuotaSnapshot is the admission decision for one ingestion attempt,
// evaluated against the user's tier and the current calendar month.
type QuotaSnapshot struct {
	Admitted  bool   `json:"admitted"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	IsPremium bool   `json:"isPremium"`
	Reason    string `json:"reason,omitempty"`
}
