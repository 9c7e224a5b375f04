package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"recipesnap/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors the GormStore
// semantics (atomic charged create, fingerprint uniqueness, translation
// upsert) and backs the test suites.
type MemoryStore struct {
	mu           sync.Mutex
	users        map[string]domain.User
	email        map[string]string // email -> user ID
	recipes      map[int64]domain.Recipe
	nextRecipeID int64
	shares       map[int64]map[string]time.Time // recipeID -> userID -> grantedAt
	translations map[int64]map[string]domain.RecipeTranslation
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]domain.User),
		email:        make(map[string]string),
		recipes:      make(map[int64]domain.Recipe),
		nextRecipeID: 1,
		shares:       make(map[int64]map[string]time.Time),
		translations: make(map[int64]map[string]domain.RecipeTranslation),
	}
}

// SaveUser stores or replaces a user record.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[strings.ToLower(u.Email)] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[strings.ToLower(email)]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// ResetScanCount zeroes the monthly counter.
func (m *MemoryStore) ResetScanCount(userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.ScanCount = 0
	u.LastScanDate = at.UTC()
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

// SetPremium flips the subscription tier flag.
func (m *MemoryStore) SetPremium(userID string, premium bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.IsPremium = premium
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

// CreateRecipeCharged applies the recipe insert and the quota charge
// under one lock, all or nothing.
func (m *MemoryStore) CreateRecipeCharged(req ChargedCreate) (domain.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	author, ok := m.users[req.Recipe.AuthorID]
	if !ok {
		return domain.Recipe{}, gorm.ErrRecordNotFound
	}
	if req.EnforceLimit && author.ScanCount >= req.Limit {
		return domain.Recipe{}, ErrQuotaExhausted
	}
	fingerprint := strings.TrimSpace(req.Recipe.ImageFingerprint)
	if fingerprint != "" {
		for _, existing := range m.recipes {
			if existing.AuthorID == req.Recipe.AuthorID && existing.ImageFingerprint == fingerprint {
				return domain.Recipe{}, ErrDuplicateImage
			}
		}
	}
	recipe := req.Recipe
	recipe.ID = m.nextRecipeID
	m.nextRecipeID++
	m.recipes[recipe.ID] = recipe

	author.ScanCount++
	author.LastScanDate = req.Now.UTC()
	author.UpdatedAt = time.Now().UTC()
	m.users[author.ID] = author
	return recipe, nil
}

// GetRecipe retrieves a recipe.
func (m *MemoryStore) GetRecipe(id int64) (domain.Recipe, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipes[id]
	return r, ok, nil
}

// GetRecipeByFingerprint finds the author's recipe for an image digest.
func (m *MemoryStore) GetRecipeByFingerprint(authorID, fingerprint string) (domain.Recipe, bool, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return domain.Recipe{}, false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipes {
		if r.AuthorID == authorID && r.ImageFingerprint == fingerprint {
			return r, true, nil
		}
	}
	return domain.Recipe{}, false, nil
}

// ListRecipesByAuthor returns the author's recipes newest first.
func (m *MemoryStore) ListRecipesByAuthor(authorID string) ([]domain.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Recipe
	for _, r := range m.recipes {
		if r.AuthorID == authorID {
			res = append(res, r)
		}
	}
	sortRecipesNewestFirst(res)
	return res, nil
}

// UpdateRecipe edits author-mutable fields and drops cached translations.
func (m *MemoryStore) UpdateRecipe(id int64, title, summary, content, icon string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.Title = title
	r.Summary = summary
	r.Content = content
	r.Icon = icon
	r.UpdatedAt = time.Now().UTC()
	m.recipes[id] = r
	delete(m.translations, id)
	return nil
}

// SetRecipeStorageKey records where the source image was archived.
func (m *MemoryStore) SetRecipeStorageKey(id int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.StorageKey = key
	m.recipes[id] = r
	return nil
}

// ShareRecipe grants read access, idempotently.
func (m *MemoryStore) ShareRecipe(recipeID int64, sharedWithID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	grants, ok := m.shares[recipeID]
	if !ok {
		grants = make(map[string]time.Time)
		m.shares[recipeID] = grants
	}
	if _, exists := grants[sharedWithID]; !exists {
		grants[sharedWithID] = time.Now().UTC()
	}
	return nil
}

// IsSharedWith reports whether the user holds a share grant.
func (m *MemoryStore) IsSharedWith(recipeID int64, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grants, ok := m.shares[recipeID]
	if !ok {
		return false, nil
	}
	_, shared := grants[userID]
	return shared, nil
}

// ListSharedRecipes returns recipes shared with the user.
func (m *MemoryStore) ListSharedRecipes(userID string) ([]domain.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.Recipe
	for recipeID, grants := range m.shares {
		if _, ok := grants[userID]; !ok {
			continue
		}
		if r, exists := m.recipes[recipeID]; exists {
			res = append(res, r)
		}
	}
	sortRecipesNewestFirst(res)
	return res, nil
}

// GetTranslation returns the cached translation if present.
func (m *MemoryStore) GetTranslation(recipeID int64, languageCode string) (domain.RecipeTranslation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	langs, ok := m.translations[recipeID]
	if !ok {
		return domain.RecipeTranslation{}, false, nil
	}
	t, ok := langs[languageCode]
	return t, ok, nil
}

// UpsertTranslation writes the cache row, last write wins.
func (m *MemoryStore) UpsertTranslation(t domain.RecipeTranslation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	langs, ok := m.translations[t.RecipeID]
	if !ok {
		langs = make(map[string]domain.RecipeTranslation)
		m.translations[t.RecipeID] = langs
	}
	now := time.Now().UTC()
	if existing, exists := langs[t.LanguageCode]; exists {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	langs[t.LanguageCode] = t
	return nil
}

func sortRecipesNewestFirst(recipes []domain.Recipe) {
	sort.Slice(recipes, func(i, j int) bool {
		if recipes[i].CreatedAt.Equal(recipes[j].CreatedAt) {
			return recipes[i].ID > recipes[j].ID
		}
		return recipes[i].CreatedAt.After(recipes[j].CreatedAt)
	})
}
