package store

import (
	"errors"
	"testing"
	"time"

	"recipesnap/pkg/domain"
)

func seedAuthor(t *testing.T, m *MemoryStore, scanCount int) domain.User {
	t.Helper()
	user := domain.User{
		ID:        "chef-1",
		Email:     "chef@example.com",
		Role:      domain.RoleUser,
		ScanCount: scanCount,
	}
	if err := m.SaveUser(user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return user
}

func TestChargedCreateInsertsAndIncrements(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 0)
	now := time.Now().UTC()

	recipe, err := m.CreateRecipeCharged(ChargedCreate{
		Recipe: domain.Recipe{
			AuthorID:         "chef-1",
			Title:            "Apple Pie",
			Content:          "# Apple Pie",
			ImageFingerprint: "fp-1",
		},
		Limit:        3,
		EnforceLimit: true,
		Now:          now,
	})
	if err != nil {
		t.Fatalf("charged create: %v", err)
	}
	if recipe.ID == 0 {
		t.Fatal("recipe ID not assigned")
	}
	user, _, _ := m.GetUserByID("chef-1")
	if user.ScanCount != 1 {
		t.Fatalf("scan count = %d, want 1", user.ScanCount)
	}
	if !user.LastScanDate.Equal(now) {
		t.Fatalf("last scan date = %v, want %v", user.LastScanDate, now)
	}
}

func TestChargedCreateDuplicateFingerprintRejectedAtomically(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 0)
	req := ChargedCreate{
		Recipe: domain.Recipe{
			AuthorID:         "chef-1",
			Title:            "Apple Pie",
			Content:          "# Apple Pie",
			ImageFingerprint: "fp-1",
		},
		Limit:        3,
		EnforceLimit: true,
		Now:          time.Now().UTC(),
	}
	if _, err := m.CreateRecipeCharged(req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := m.CreateRecipeCharged(req); !errors.Is(err, ErrDuplicateImage) {
		t.Fatalf("second create err = %v, want ErrDuplicateImage", err)
	}
	// The failed insert must not charge a scan.
	user, _, _ := m.GetUserByID("chef-1")
	if user.ScanCount != 1 {
		t.Fatalf("scan count = %d, want 1", user.ScanCount)
	}
}

func TestChargedCreateSameFingerprintDifferentAuthors(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 0)
	if err := m.SaveUser(domain.User{ID: "chef-2", Email: "other@example.com", Role: domain.RoleUser}); err != nil {
		t.Fatalf("save second user: %v", err)
	}
	for _, author := range []string{"chef-1", "chef-2"} {
		_, err := m.CreateRecipeCharged(ChargedCreate{
			Recipe: domain.Recipe{
				AuthorID:         author,
				Title:            "Apple Pie",
				Content:          "# Apple Pie",
				ImageFingerprint: "fp-shared",
			},
			Limit:        3,
			EnforceLimit: true,
			Now:          time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create for %s: %v", author, err)
		}
	}
}

func TestChargedCreateQuotaRecheck(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 3)

	_, err := m.CreateRecipeCharged(ChargedCreate{
		Recipe:       domain.Recipe{AuthorID: "chef-1", Title: "Pie", Content: "# Pie", ImageFingerprint: "fp-1"},
		Limit:        3,
		EnforceLimit: true,
		Now:          time.Now().UTC(),
	})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}

	// EnforceLimit false admits over-limit authors but still charges.
	if _, err := m.CreateRecipeCharged(ChargedCreate{
		Recipe:       domain.Recipe{AuthorID: "chef-1", Title: "Pie", Content: "# Pie", ImageFingerprint: "fp-1"},
		Limit:        3,
		EnforceLimit: false,
		Now:          time.Now().UTC(),
	}); err != nil {
		t.Fatalf("unenforced create: %v", err)
	}
	user, _, _ := m.GetUserByID("chef-1")
	if user.ScanCount != 4 {
		t.Fatalf("scan count = %d, want 4", user.ScanCount)
	}
}

func TestUpdateRecipeDropsTranslations(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 0)
	recipe, err := m.CreateRecipeCharged(ChargedCreate{
		Recipe: domain.Recipe{AuthorID: "chef-1", Title: "Pie", Content: "# Pie", ImageFingerprint: "fp-1"},
		Limit:  3,
		Now:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.UpsertTranslation(domain.RecipeTranslation{
		RecipeID:     recipe.ID,
		LanguageCode: "es",
		Title:        "Tarta",
		Content:      "# Tarta",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.UpdateRecipe(recipe.ID, "Pie v2", "", "# Pie v2", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok, _ := m.GetTranslation(recipe.ID, "es"); ok {
		t.Fatal("translation survived update")
	}
}

func TestUpsertTranslationPreservesCreatedAt(t *testing.T) {
	m := NewMemoryStore()
	first := domain.RecipeTranslation{
		RecipeID:     1,
		LanguageCode: "es",
		Title:        "Tarta",
		Content:      "# Tarta",
	}
	if err := m.UpsertTranslation(first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	stored, ok, _ := m.GetTranslation(1, "es")
	if !ok {
		t.Fatal("translation missing")
	}
	createdAt := stored.CreatedAt

	second := first
	second.Title = "Tarta de Manzana"
	if err := m.UpsertTranslation(second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	stored, _, _ = m.GetTranslation(1, "es")
	if stored.Title != "Tarta de Manzana" {
		t.Fatalf("title = %q", stored.Title)
	}
	if !stored.CreatedAt.Equal(createdAt) {
		t.Fatalf("createdAt changed on upsert: %v -> %v", createdAt, stored.CreatedAt)
	}
}

func TestListRecipesByAuthorNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 0)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := m.CreateRecipeCharged(ChargedCreate{
			Recipe: domain.Recipe{
				AuthorID:         "chef-1",
				Title:            "Pie",
				Content:          "# Pie",
				ImageFingerprint: "fp-" + string(rune('a'+i)),
				CreatedAt:        base.Add(time.Duration(i) * time.Minute),
			},
			Limit: 10,
			Now:   time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	recipes, err := m.ListRecipesByAuthor("chef-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recipes) != 3 {
		t.Fatalf("len = %d, want 3", len(recipes))
	}
	for i := 1; i < len(recipes); i++ {
		if recipes[i].CreatedAt.After(recipes[i-1].CreatedAt) {
			t.Fatalf("recipes not newest first: %v", recipes)
		}
	}
}

func TestShareGrantsAndLookups(t *testing.T) {
	m := NewMemoryStore()
	seedAuthor(t, m, 0)
	recipe, err := m.CreateRecipeCharged(ChargedCreate{
		Recipe: domain.Recipe{AuthorID: "chef-1", Title: "Pie", Content: "# Pie", ImageFingerprint: "fp-1"},
		Limit:  3,
		Now:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.ShareRecipe(recipe.ID, "chef-2"); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := m.ShareRecipe(recipe.ID, "chef-2"); err != nil {
		t.Fatalf("re-share: %v", err)
	}
	shared, err := m.IsSharedWith(recipe.ID, "chef-2")
	if err != nil || !shared {
		t.Fatalf("IsSharedWith = %v, %v", shared, err)
	}
	listing, err := m.ListSharedRecipes("chef-2")
	if err != nil || len(listing) != 1 {
		t.Fatalf("ListSharedRecipes = %v, %v", listing, err)
	}
	if shared, _ := m.IsSharedWith(recipe.ID, "chef-3"); shared {
		t.Fatal("ungranted user reported as shared")
	}
}
