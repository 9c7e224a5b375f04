package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"recipesnap/pkg/domain"
)

const migrateLockID int64 = 52905290

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &RecipeModel{}, &RecipeTranslationModel{}, &SharedRecipeModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM recipe_translation_models t
				WHERE NOT EXISTS (SELECT 1 FROM recipe_models r WHERE r.id = t.recipe_id);
				DELETE FROM shared_recipe_models s
				WHERE NOT EXISTS (SELECT 1 FROM recipe_models r WHERE r.id = s.recipe_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'recipe_translation_models'
					AND constraint_name = 'recipe_translation_models_recipe_id_fkey'
				) THEN
					ALTER TABLE recipe_translation_models
					ADD CONSTRAINT recipe_translation_models_recipe_id_fkey
					FOREIGN KEY (recipe_id) REFERENCES recipe_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'shared_recipe_models'
					AND constraint_name = 'shared_recipe_models_recipe_id_fkey'
				) THEN
					ALTER TABLE shared_recipe_models
					ADD CONSTRAINT shared_recipe_models_recipe_id_fkey
					FOREIGN KEY (recipe_id) REFERENCES recipe_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure recipe foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "role", "is_premium", "scan_count", "last_scan_date", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ResetScanCount zeroes the monthly counter. The write commits before
// the caller evaluates admission, so concurrent rollover requests see
// the reset rather than each applying their own.
func (s *GormStore) ResetScanCount(userID string, at time.Time) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"scan_count":     0,
			"last_scan_date": at.UTC(),
			"updated_at":     time.Now().UTC(),
		}).Error
}

// SetPremium flips the subscription tier flag.
func (s *GormStore) SetPremium(userID string, premium bool) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"is_premium": premium,
			"updated_at": time.Now().UTC(),
		}).Error
}

// CreateRecipeCharged inserts the recipe and charges one scan against
// the author in a single transaction. The author row is locked FOR
// UPDATE and the quota rechecked under the lock, so two concurrent
// admitted requests cannot both commit past the limit. A fingerprint
// collision surfaces as ErrDuplicateImage.
func (s *GormStore) CreateRecipeCharged(req ChargedCreate) (domain.Recipe, error) {
	model := recipeToModel(req.Recipe)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var author UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&author, "id = ?", req.Recipe.AuthorID).Error; err != nil {
			return fmt.Errorf("lock author row: %w", err)
		}
		if req.EnforceLimit && author.ScanCount >= req.Limit {
			return ErrQuotaExhausted
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&UserModel{}).
			Where("id = ?", req.Recipe.AuthorID).
			Updates(map[string]any{
				"scan_count":     gorm.Expr("scan_count + 1"),
				"last_scan_date": req.Now.UTC(),
				"updated_at":     time.Now().UTC(),
			}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Recipe{}, ErrDuplicateImage
		}
		return domain.Recipe{}, err
	}
	return recipeFromModel(model), nil
}

// GetRecipe retrieves a recipe.
func (s *GormStore) GetRecipe(id int64) (domain.Recipe, bool, error) {
	var model RecipeModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Recipe{}, false, nil
		}
		return domain.Recipe{}, false, err
	}
	return recipeFromModel(model), true, nil
}

// GetRecipeByFingerprint finds the author's recipe for an image digest.
func (s *GormStore) GetRecipeByFingerprint(authorID, fingerprint string) (domain.Recipe, bool, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return domain.Recipe{}, false, nil
	}
	var model RecipeModel
	if err := s.db.Where("author_id = ? AND image_fingerprint = ?", authorID, fingerprint).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Recipe{}, false, nil
		}
		return domain.Recipe{}, false, err
	}
	return recipeFromModel(model), true, nil
}

// ListRecipesByAuthor returns the author's recipes newest first.
func (s *GormStore) ListRecipesByAuthor(authorID string) ([]domain.Recipe, error) {
	var models []RecipeModel
	if err := s.db.Where("author_id = ?", authorID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Recipe, 0, len(models))
	for _, m := range models {
		res = append(res, recipeFromModel(m))
	}
	return res, nil
}

// UpdateRecipe edits author-mutable fields and invalidates cached
// translations, both in one transaction so stale translations never
// outlive an edit.
func (s *GormStore) UpdateRecipe(id int64, title, summary, content, icon string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RecipeModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"title":      title,
				"summary":    summary,
				"content":    content,
				"icon":       icon,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Delete(&RecipeTranslationModel{}, "recipe_id = ?", id).Error
	})
}

// SetRecipeStorageKey records where the source image was archived.
func (s *GormStore) SetRecipeStorageKey(id int64, key string) error {
	return s.db.Model(&RecipeModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"storage_key": key,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// ShareRecipe grants read access. Granting twice is a no-op.
func (s *GormStore) ShareRecipe(recipeID int64, sharedWithID string) error {
	model := SharedRecipeModel{
		RecipeID:     recipeID,
		SharedWithID: sharedWithID,
		CreatedAt:    time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipe_id"}, {Name: "shared_with_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// IsSharedWith reports whether the user holds a share grant.
func (s *GormStore) IsSharedWith(recipeID int64, userID string) (bool, error) {
	var count int64
	if err := s.db.Model(&SharedRecipeModel{}).
		Where("recipe_id = ? AND shared_with_id = ?", recipeID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListSharedRecipes returns recipes shared with the user, newest grant first.
func (s *GormStore) ListSharedRecipes(userID string) ([]domain.Recipe, error) {
	var models []RecipeModel
	if err := s.db.Model(&RecipeModel{}).
		Joins("JOIN shared_recipe_models ON shared_recipe_models.recipe_id = recipe_models.id").
		Where("shared_recipe_models.shared_with_id = ?", userID).
		Order("shared_recipe_models.created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Recipe, 0, len(models))
	for _, m := range models {
		res = append(res, recipeFromModel(m))
	}
	return res, nil
}

// GetTranslation returns the cached translation if present.
func (s *GormStore) GetTranslation(recipeID int64, languageCode string) (domain.RecipeTranslation, bool, error) {
	var model RecipeTranslationModel
	if err := s.db.Where("recipe_id = ? AND language_code = ?", recipeID, languageCode).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecipeTranslation{}, false, nil
		}
		return domain.RecipeTranslation{}, false, err
	}
	return translationFromModel(model), true, nil
}

// UpsertTranslation writes the cache row, last write wins under
// concurrent generation of the same (recipe, language) pair.
func (s *GormStore) UpsertTranslation(t domain.RecipeTranslation) error {
	model := translationToModel(t)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipe_id"}, {Name: "language_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "summary", "content", "updated_at"}),
	}).Create(&model).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         string(u.Role),
		IsPremium:    u.IsPremium,
		ScanCount:    u.ScanCount,
		LastScanDate: u.LastScanDate,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		Role:         role,
		IsPremium:    m.IsPremium,
		ScanCount:    m.ScanCount,
		LastScanDate: m.LastScanDate,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func recipeToModel(r domain.Recipe) RecipeModel {
	var fingerprint *string
	if strings.TrimSpace(r.ImageFingerprint) != "" {
		value := strings.TrimSpace(r.ImageFingerprint)
		fingerprint = &value
	}
	meta, _ := json.Marshal(r.ScanMeta)
	return RecipeModel{
		ID:               r.ID,
		AuthorID:         r.AuthorID,
		Title:            r.Title,
		Summary:          r.Summary,
		Content:          r.Content,
		Icon:             r.Icon,
		ImageFingerprint: fingerprint,
		StorageKey:       r.StorageKey,
		ScanMeta:         meta,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func recipeFromModel(m RecipeModel) domain.Recipe {
	fingerprint := ""
	if m.ImageFingerprint != nil {
		fingerprint = *m.ImageFingerprint
	}
	var meta domain.ScanMeta
	if len(m.ScanMeta) > 0 {
		_ = json.Unmarshal(m.ScanMeta, &meta)
	}
	return domain.Recipe{
		ID:               m.ID,
		AuthorID:         m.AuthorID,
		Title:            m.Title,
		Summary:          m.Summary,
		Content:          m.Content,
		Icon:             m.Icon,
		ImageFingerprint: fingerprint,
		StorageKey:       m.StorageKey,
		ScanMeta:         meta,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func translationToModel(t domain.RecipeTranslation) RecipeTranslationModel {
	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := t.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	return RecipeTranslationModel{
		RecipeID:     t.RecipeID,
		LanguageCode: t.LanguageCode,
		Title:        t.Title,
		Summary:      t.Summary,
		Content:      t.Content,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
}

func translationFromModel(m RecipeTranslationModel) domain.RecipeTranslation {
	return domain.RecipeTranslation{
		RecipeID:     m.RecipeID,
		LanguageCode: m.LanguageCode,
		Title:        m.Title,
		Summary:      m.Summary,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
