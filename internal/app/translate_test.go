package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"recipesnap/pkg/domain"
	"recipesnap/pkg/store"
)

const sampleTranslation = `{"title": "Tarta de Manzana", "summary": "Una tarta clásica.", "content": "# Tarta de Manzana\n\n## Ingredientes\n- 6 manzanas"}`

func seedRecipe(t *testing.T, dataStore store.Store, authorID string) domain.Recipe {
	t.Helper()
	recipe, err := dataStore.CreateRecipeCharged(store.ChargedCreate{
		Recipe: domain.Recipe{
			AuthorID: authorID,
			Title:    "Apple Pie",
			Summary:  "A classic pie.",
			Content:  "# Apple Pie\n\n## Ingredients\n- 6 apples",
		},
		Limit:        3,
		EnforceLimit: false,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed recipe: %v", err)
	}
	return recipe
}

func TestTranslateRecipeGeneratesAndCaches(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	generator := &fakeGenerator{response: sampleTranslation}
	a := newTestApp(t, dataStore, nil, generator)
	recipe := seedRecipe(t, dataStore, user.ID)

	first, err := a.TranslateRecipe(context.Background(), user, recipe.ID, "ES", "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if first.Title != "Tarta de Manzana" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.LanguageCode != "es" {
		t.Fatalf("language code = %q, want normalized es", first.LanguageCode)
	}

	second, err := a.TranslateRecipe(context.Background(), user, recipe.ID, "es", "")
	if err != nil {
		t.Fatalf("cached translate: %v", err)
	}
	if generator.calls != 1 {
		t.Fatalf("generator calls = %d, want 1 (second request served from cache)", generator.calls)
	}
	if second.Title != first.Title {
		t.Fatalf("cached title = %q, want %q", second.Title, first.Title)
	}
}

func TestTranslateRecipeToleratesFencesAndProse(t *testing.T) {
	cases := []string{
		"```json\n" + sampleTranslation + "\n```",
		"Here is the translation you asked for:\n\n" + sampleTranslation + "\n\nEnjoy!",
	}
	for _, raw := range cases {
		payload, err := parseTranslation(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw[:20], err)
		}
		if payload.Title != "Tarta de Manzana" {
			t.Fatalf("title = %q", payload.Title)
		}
	}
}

func TestParseTranslationRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"no json here",
		`{"title": "", "content": ""}`,
		`{"title": "x"`,
	} {
		if _, err := parseTranslation(raw); !errors.Is(err, ErrTranslationFailed) {
			t.Fatalf("parse(%q) err = %v, want ErrTranslationFailed", raw, err)
		}
	}
}

// failingUpsertStore drops all cache writes.
type failingUpsertStore struct {
	store.Store
	upserts int
}

func (s *failingUpsertStore) UpsertTranslation(domain.RecipeTranslation) error {
	s.upserts++
	return errors.New("cache unavailable")
}

func TestTranslateRecipeCacheWriteFailureIsNotSurfaced(t *testing.T) {
	inner := store.NewMemoryStore()
	user := seedUser(t, inner, domain.User{ID: "chef-1", Email: "chef@example.com"})
	recipe := seedRecipe(t, inner, user.ID)
	failing := &failingUpsertStore{Store: inner}
	generator := &fakeGenerator{response: sampleTranslation}
	a := newTestApp(t, failing, nil, generator)

	translated, err := a.TranslateRecipe(context.Background(), user, recipe.ID, "es", "")
	if err != nil {
		t.Fatalf("translate with failing cache: %v", err)
	}
	if translated.Title != "Tarta de Manzana" {
		t.Fatalf("title = %q", translated.Title)
	}
	if failing.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", failing.upserts)
	}
	// Without a cache the next request regenerates.
	if _, err := a.TranslateRecipe(context.Background(), user, recipe.ID, "es", ""); err != nil {
		t.Fatalf("second translate: %v", err)
	}
	if generator.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", generator.calls)
	}
}

func TestTranslateRecipeVisibility(t *testing.T) {
	dataStore := store.NewMemoryStore()
	author := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	friend := seedUser(t, dataStore, domain.User{ID: "chef-2", Email: "friend@example.com"})
	generator := &fakeGenerator{response: sampleTranslation}
	a := newTestApp(t, dataStore, nil, generator)
	recipe := seedRecipe(t, dataStore, author.ID)

	if _, err := a.TranslateRecipe(context.Background(), friend, recipe.ID, "es", ""); !errors.Is(err, ErrRecipeForbidden) {
		t.Fatalf("unshared translate err = %v, want ErrRecipeForbidden", err)
	}
	if err := dataStore.ShareRecipe(recipe.ID, friend.ID); err != nil {
		t.Fatalf("share: %v", err)
	}
	if _, err := a.TranslateRecipe(context.Background(), friend, recipe.ID, "es", ""); err != nil {
		t.Fatalf("shared translate: %v", err)
	}
	if _, err := a.TranslateRecipe(context.Background(), author, 9999, "es", ""); !errors.Is(err, ErrRecipeNotFound) {
		t.Fatalf("missing recipe err = %v, want ErrRecipeNotFound", err)
	}
}

func TestUpdateRecipeInvalidatesCachedTranslations(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	generator := &fakeGenerator{response: sampleTranslation}
	a := newTestApp(t, dataStore, nil, generator)
	recipe := seedRecipe(t, dataStore, user.ID)

	if _, err := a.TranslateRecipe(context.Background(), user, recipe.ID, "es", ""); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if _, err := a.UpdateRecipe(user, recipe.ID, "Apple Pie v2", "Updated.", "# Apple Pie v2\n\nNew text.", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok, _ := dataStore.GetTranslation(recipe.ID, "es"); ok {
		t.Fatal("cached translation survived recipe edit")
	}
	// Next translate regenerates from the edited recipe.
	if _, err := a.TranslateRecipe(context.Background(), user, recipe.ID, "es", ""); err != nil {
		t.Fatalf("re-translate: %v", err)
	}
	if generator.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", generator.calls)
	}
}
