package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"recipesnap/internal/util"
	"recipesnap/pkg/ai"
	"recipesnap/pkg/domain"
	"recipesnap/pkg/storage"
	"recipesnap/pkg/store"
)

const (
	defaultFreeScanLimit    = 3
	defaultPremiumScanLimit = 20
	defaultAITimeout        = 60 * time.Second
	defaultMaxImportBytes   = 4 << 20
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL      string
	Store            store.Store
	Extractor        ai.TextExtractor
	Generator        ai.TextGenerator
	GeneratorModel   string
	Objects          storage.ObjectStore
	FreeScanLimit    int
	PremiumScanLimit int
	AITimeout        time.Duration
	MaxImportBytes   int64
}

// App wires storage, OCR, and recipe synthesis together.
type App struct {
	store          store.Store
	extractor      ai.TextExtractor
	generator      ai.TextGenerator
	generatorModel string
	objects        storage.ObjectStore
	freeLimit      int
	premiumLimit   int
	aiTimeout      time.Duration
	maxImportBytes int64
	httpClient     *http.Client
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("text extractor required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	freeLimit := cfg.FreeScanLimit
	if freeLimit <= 0 {
		freeLimit = defaultFreeScanLimit
	}
	premiumLimit := cfg.PremiumScanLimit
	if premiumLimit <= 0 {
		premiumLimit = defaultPremiumScanLimit
	}
	aiTimeout := cfg.AITimeout
	if aiTimeout <= 0 {
		aiTimeout = defaultAITimeout
	}
	maxImportBytes := cfg.MaxImportBytes
	if maxImportBytes <= 0 {
		maxImportBytes = defaultMaxImportBytes
	}
	return &App{
		store:          dataStore,
		extractor:      cfg.Extractor,
		generator:      cfg.Generator,
		generatorModel: cfg.GeneratorModel,
		objects:        cfg.Objects,
		freeLimit:      freeLimit,
		premiumLimit:   premiumLimit,
		aiTimeout:      aiTimeout,
		maxImportBytes: maxImportBytes,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// IngestOutcome is the result of an ingestion attempt. Duplicate means an
// existing recipe with the same image fingerprint was returned and no
// quota was charged.
type IngestOutcome struct {
	Recipe    domain.Recipe
	Duplicate bool
}

// IngestImage runs the full pipeline for an uploaded photo or PDF:
// fingerprint dedup, quota admission, text extraction, recipe synthesis,
// and the atomic recipe-plus-charge commit.
func (a *App) IngestImage(ctx context.Context, user domain.User, filename string, data []byte) (IngestOutcome, error) {
	if len(data) == 0 {
		return IngestOutcome{}, fmt.Errorf("empty upload")
	}
	fingerprint := Fingerprint(data)
	if existing, ok, err := a.store.GetRecipeByFingerprint(user.ID, fingerprint); err != nil {
		return IngestOutcome{}, fmt.Errorf("fingerprint lookup: %w", err)
	} else if ok {
		return IngestOutcome{Recipe: existing, Duplicate: true}, nil
	}

	now := time.Now().UTC()
	snap, err := a.admitScan(&user, now)
	if err != nil {
		return IngestOutcome{}, err
	}
	if !snap.Admitted {
		return IngestOutcome{}, &QuotaExceededError{Limit: snap.Limit, Count: snap.Count}
	}

	tempPath, err := a.stageUpload(filename, data)
	if err != nil {
		return IngestOutcome{}, err
	}
	defer os.Remove(tempPath)

	text, source, err := a.extractUpload(ctx, filename, tempPath, data)
	if err != nil {
		return IngestOutcome{}, err
	}
	synth, err := a.synthesize(ctx, text)
	if err != nil {
		return IngestOutcome{}, err
	}

	recipe := domain.Recipe{
		AuthorID:         user.ID,
		Title:            synth.Title,
		Summary:          synth.Summary,
		Content:          synth.Content,
		ImageFingerprint: fingerprint,
		ScanMeta: domain.ScanMeta{
			Source:           source,
			OriginalFilename: filepath.Base(filename),
			ExtractedChars:   len(text),
			Model:            a.generatorModel,
		},
	}
	return a.commitScan(ctx, user, recipe, filename, data)
}

// commitScan performs the single transactional write and the best-effort
// source archive. A duplicate insert lost to a concurrent upload of the
// same bytes resolves to the winner's recipe.
func (a *App) commitScan(ctx context.Context, user domain.User, recipe domain.Recipe, filename string, data []byte) (IngestOutcome, error) {
	created, err := a.store.CreateRecipeCharged(store.ChargedCreate{
		Recipe:       recipe,
		Limit:        a.scanLimit(user),
		EnforceLimit: user.Role != domain.RoleAdmin,
		Now:          time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateImage) {
		if existing, ok, lookupErr := a.store.GetRecipeByFingerprint(user.ID, recipe.ImageFingerprint); lookupErr == nil && ok {
			return IngestOutcome{Recipe: existing, Duplicate: true}, nil
		}
		return IngestOutcome{}, fmt.Errorf("resolve duplicate recipe: %w", err)
	}
	if errors.Is(err, store.ErrQuotaExhausted) {
		return IngestOutcome{}, &QuotaExceededError{Limit: a.scanLimit(user), Count: a.scanLimit(user)}
	}
	if err != nil {
		return IngestOutcome{}, fmt.Errorf("create recipe: %w", err)
	}
	a.archiveSource(ctx, created, filename, data)
	return IngestOutcome{Recipe: created}, nil
}

// archiveSource stores the original upload in object storage. Failures
// are logged only; the recipe is already committed.
func (a *App) archiveSource(ctx context.Context, recipe domain.Recipe, filename string, data []byte) {
	if a.objects == nil || len(data) == 0 {
		return
	}
	key := fmt.Sprintf("scans/%s/%s%s", recipe.AuthorID, util.NewID(), strings.ToLower(filepath.Ext(filename)))
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypeFor(filename)); err != nil {
		slog.Warn("archive source upload failed", "recipe_id", recipe.ID, "error", err)
		return
	}
	if err := a.store.SetRecipeStorageKey(recipe.ID, key); err != nil {
		slog.Warn("record storage key failed", "recipe_id", recipe.ID, "key", key, "error", err)
	}
}

// SourceImageURL returns a short-lived link to the archived original
// upload, or "" when none was archived.
func (a *App) SourceImageURL(ctx context.Context, user domain.User, recipeID int64) (string, error) {
	recipe, err := a.visibleRecipe(recipeID, user)
	if err != nil {
		return "", err
	}
	if recipe.StorageKey == "" || a.objects == nil {
		return "", nil
	}
	url, err := a.objects.PresignGet(ctx, recipe.StorageKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign source image: %w", err)
	}
	return url, nil
}

func (a *App) stageUpload(filename string, data []byte) (string, error) {
	tmpFile, err := os.CreateTemp("", "recipesnap-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	defer tmpFile.Close()
	if _, err := tmpFile.Write(data); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return tmpFile.Name(), nil
}

// EnsureUser returns the account for a verified token subject, creating
// it on first contact.
func (a *App) EnsureUser(id, email, name string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if ok {
		return user, nil
	}
	now := time.Now().UTC()
	user = domain.User{
		ID:        id,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Name:      name,
		Role:      domain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetRecipe returns a recipe the user may read.
func (a *App) GetRecipe(user domain.User, recipeID int64) (domain.Recipe, error) {
	return a.visibleRecipe(recipeID, user)
}

// ListRecipes returns the user's own recipes, newest first.
func (a *App) ListRecipes(user domain.User) ([]domain.Recipe, error) {
	recipes, err := a.store.ListRecipesByAuthor(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	return recipes, nil
}

// ListSharedRecipes returns recipes other users shared with this user.
func (a *App) ListSharedRecipes(user domain.User) ([]domain.Recipe, error) {
	recipes, err := a.store.ListSharedRecipes(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list shared recipes: %w", err)
	}
	return recipes, nil
}

// UpdateRecipe edits a recipe's text fields. Only the author may edit;
// cached translations are invalidated by the store in the same
// transaction.
func (a *App) UpdateRecipe(user domain.User, recipeID int64, title, summary, content, icon string) (domain.Recipe, error) {
	recipe, ok, err := a.store.GetRecipe(recipeID)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("load recipe: %w", err)
	}
	if !ok {
		return domain.Recipe{}, ErrRecipeNotFound
	}
	if recipe.AuthorID != user.ID && user.Role != domain.RoleAdmin {
		return domain.Recipe{}, ErrRecipeForbidden
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = untitledRecipe
	}
	if strings.TrimSpace(content) == "" {
		return domain.Recipe{}, fmt.Errorf("content required")
	}
	if err := a.store.UpdateRecipe(recipeID, title, summary, content, icon); err != nil {
		return domain.Recipe{}, fmt.Errorf("update recipe: %w", err)
	}
	updated, _, err := a.store.GetRecipe(recipeID)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("reload recipe: %w", err)
	}
	return updated, nil
}

// ShareRecipe grants another registered user read access by email. Only
// the author may share. Sharing twice with the same user is a no-op.
func (a *App) ShareRecipe(user domain.User, recipeID int64, email string) error {
	recipe, ok, err := a.store.GetRecipe(recipeID)
	if err != nil {
		return fmt.Errorf("load recipe: %w", err)
	}
	if !ok {
		return ErrRecipeNotFound
	}
	if recipe.AuthorID != user.ID && user.Role != domain.RoleAdmin {
		return ErrRecipeForbidden
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("email required")
	}
	recipient, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return fmt.Errorf("look up recipient: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if recipient.ID == recipe.AuthorID {
		return fmt.Errorf("cannot share a recipe with its author")
	}
	if err := a.store.ShareRecipe(recipeID, recipient.ID); err != nil {
		return fmt.Errorf("share recipe: %w", err)
	}
	return nil
}

// UpgradeToPremium switches the user to the premium tier. The scan
// counter is untouched; only the limit changes.
func (a *App) UpgradeToPremium(user domain.User) (domain.User, error) {
	if err := a.store.SetPremium(user.ID, true); err != nil {
		return domain.User{}, fmt.Errorf("upgrade user: %w", err)
	}
	updated, _, err := a.store.GetUserByID(user.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("reload user: %w", err)
	}
	return updated, nil
}

// visibleRecipe loads a recipe and checks the caller may read it: the
// author, a share recipient, or an admin.
func (a *App) visibleRecipe(recipeID int64, user domain.User) (domain.Recipe, error) {
	recipe, ok, err := a.store.GetRecipe(recipeID)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("load recipe: %w", err)
	}
	if !ok {
		return domain.Recipe{}, ErrRecipeNotFound
	}
	if recipe.AuthorID == user.ID || user.Role == domain.RoleAdmin {
		return recipe, nil
	}
	shared, err := a.store.IsSharedWith(recipeID, user.ID)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("check share: %w", err)
	}
	if !shared {
		return domain.Recipe{}, ErrRecipeForbidden
	}
	return recipe, nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
