package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"recipesnap/pkg/domain"
	"recipesnap/pkg/store"
)

const sampleSynthesis = "SUMMARY: A cozy classic apple pie with a flaky crust.\n\n# Apple Pie\n\n## Ingredients\n- 6 apples\n- 1 pie crust\n\n## Instructions\n1. Slice the apples.\n2. Bake at 190C for 45 minutes."

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(ctx context.Context, image []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestApp(t *testing.T, dataStore store.Store, extractor *fakeExtractor, generator *fakeGenerator) *App {
	t.Helper()
	if extractor == nil {
		extractor = &fakeExtractor{text: "Apple Pie\n6 apples\n1 crust\nBake at 190C"}
	}
	if generator == nil {
		generator = &fakeGenerator{response: sampleSynthesis}
	}
	a, err := New(Config{
		Store:     dataStore,
		Extractor: extractor,
		Generator: generator,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func seedUser(t *testing.T, dataStore store.Store, user domain.User) domain.User {
	t.Helper()
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if err := dataStore.SaveUser(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestIngestImageCreatesRecipeAndChargesScan(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	a := newTestApp(t, dataStore, nil, nil)

	outcome, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.Duplicate {
		t.Fatal("first ingest flagged as duplicate")
	}
	if outcome.Recipe.Title != "Apple Pie" {
		t.Fatalf("title = %q, want %q", outcome.Recipe.Title, "Apple Pie")
	}
	if outcome.Recipe.Summary == "" {
		t.Fatal("summary empty")
	}
	if outcome.Recipe.ImageFingerprint != Fingerprint([]byte("jpeg-bytes")) {
		t.Fatalf("fingerprint mismatch: %q", outcome.Recipe.ImageFingerprint)
	}
	if outcome.Recipe.ScanMeta.Source != domain.SourceImage {
		t.Fatalf("source = %q, want image", outcome.Recipe.ScanMeta.Source)
	}

	stored, ok, err := dataStore.GetUserByID(user.ID)
	if err != nil || !ok {
		t.Fatalf("reload user: ok=%v err=%v", ok, err)
	}
	if stored.ScanCount != 1 {
		t.Fatalf("scan count = %d, want 1", stored.ScanCount)
	}
}

func TestIngestImageDuplicateReturnsExistingWithoutCharge(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	generator := &fakeGenerator{response: sampleSynthesis}
	a := newTestApp(t, dataStore, nil, generator)

	image := []byte("same-photo")
	first, err := a.IngestImage(context.Background(), user, "pie.jpg", image)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	user, _, _ = dataStore.GetUserByID(user.ID)

	second, err := a.IngestImage(context.Background(), user, "pie-again.jpg", image)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second ingest not flagged as duplicate")
	}
	if second.Recipe.ID != first.Recipe.ID {
		t.Fatalf("duplicate returned recipe %d, want %d", second.Recipe.ID, first.Recipe.ID)
	}
	if generator.calls != 1 {
		t.Fatalf("generator calls = %d, want 1 (duplicate must short-circuit)", generator.calls)
	}
	stored, _, _ := dataStore.GetUserByID(user.ID)
	if stored.ScanCount != 1 {
		t.Fatalf("scan count = %d, want 1 after duplicate", stored.ScanCount)
	}
}

func TestIngestImageQuotaExceeded(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{
		ID:           "chef-1",
		Email:        "chef@example.com",
		ScanCount:    3,
		LastScanDate: time.Now().UTC(),
	})
	a := newTestApp(t, dataStore, nil, nil)

	_, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("photo"))
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if quotaErr.Limit != 3 {
		t.Fatalf("limit = %d, want 3", quotaErr.Limit)
	}
	recipes, _ := dataStore.ListRecipesByAuthor(user.ID)
	if len(recipes) != 0 {
		t.Fatalf("recipes = %d, want 0", len(recipes))
	}
}

func TestIngestImagePremiumLimit(t *testing.T) {
	dataStore := store.NewMemoryStore()
	now := time.Now().UTC()
	user := seedUser(t, dataStore, domain.User{
		ID:           "chef-1",
		Email:        "chef@example.com",
		IsPremium:    true,
		ScanCount:    19,
		LastScanDate: now,
	})
	a := newTestApp(t, dataStore, nil, nil)

	if _, err := a.IngestImage(context.Background(), user, "one.jpg", []byte("photo-19")); err != nil {
		t.Fatalf("scan 20 of 20: %v", err)
	}
	user, _, _ = dataStore.GetUserByID(user.ID)
	_, err := a.IngestImage(context.Background(), user, "two.jpg", []byte("photo-20"))
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if quotaErr.Limit != 20 {
		t.Fatalf("limit = %d, want 20", quotaErr.Limit)
	}
}

func TestIngestImageAdminBypassesLimitButIsCounted(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{
		ID:           "admin-1",
		Email:        "admin@example.com",
		Role:         domain.RoleAdmin,
		ScanCount:    50,
		LastScanDate: time.Now().UTC(),
	})
	a := newTestApp(t, dataStore, nil, nil)

	outcome, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("photo"))
	if err != nil {
		t.Fatalf("admin ingest: %v", err)
	}
	if outcome.Duplicate {
		t.Fatal("admin ingest flagged as duplicate")
	}
	stored, _, _ := dataStore.GetUserByID(user.ID)
	if stored.ScanCount != 51 {
		t.Fatalf("scan count = %d, want 51", stored.ScanCount)
	}
}

func TestIngestImageMonthRolloverResetsCounter(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{
		ID:           "chef-1",
		Email:        "chef@example.com",
		ScanCount:    3,
		LastScanDate: time.Now().UTC().AddDate(0, -2, 0),
	})
	a := newTestApp(t, dataStore, nil, nil)

	outcome, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("photo"))
	if err != nil {
		t.Fatalf("ingest after rollover: %v", err)
	}
	if outcome.Duplicate {
		t.Fatal("flagged as duplicate")
	}
	stored, _, _ := dataStore.GetUserByID(user.ID)
	if stored.ScanCount != 1 {
		t.Fatalf("scan count = %d, want 1 after reset plus charge", stored.ScanCount)
	}
}

func TestIngestImageExtractionFailureWritesNothing(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com", ScanCount: 1, LastScanDate: time.Now().UTC()})
	extractor := &fakeExtractor{err: errors.New("ocr backend down")}
	a := newTestApp(t, dataStore, extractor, nil)

	_, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("photo"))
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	stored, _, _ := dataStore.GetUserByID(user.ID)
	if stored.ScanCount != 1 {
		t.Fatalf("scan count = %d, want unchanged 1", stored.ScanCount)
	}
	recipes, _ := dataStore.ListRecipesByAuthor(user.ID)
	if len(recipes) != 0 {
		t.Fatalf("recipes = %d, want 0", len(recipes))
	}
}

func TestIngestImageSynthesisFailureWritesNothing(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	generator := &fakeGenerator{err: errors.New("model overloaded")}
	a := newTestApp(t, dataStore, nil, generator)

	_, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("photo"))
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}
	stored, _, _ := dataStore.GetUserByID(user.ID)
	if stored.ScanCount != 0 {
		t.Fatalf("scan count = %d, want 0", stored.ScanCount)
	}
}

// raceDuplicateStore simulates losing the insert race to a concurrent
// upload of identical bytes: the pre-check misses, the insert reports a
// duplicate, and the winner's row is visible afterwards.
type raceDuplicateStore struct {
	store.Store
	winner          domain.Recipe
	lookups         int
	createAttempted bool
}

func (s *raceDuplicateStore) GetRecipeByFingerprint(authorID, fingerprint string) (domain.Recipe, bool, error) {
	s.lookups++
	if s.lookups == 1 {
		return domain.Recipe{}, false, nil
	}
	return s.winner, true, nil
}

func (s *raceDuplicateStore) CreateRecipeCharged(req store.ChargedCreate) (domain.Recipe, error) {
	s.createAttempted = true
	return domain.Recipe{}, store.ErrDuplicateImage
}

func TestIngestImageInsertRaceResolvesToDuplicate(t *testing.T) {
	inner := store.NewMemoryStore()
	user := seedUser(t, inner, domain.User{ID: "chef-1", Email: "chef@example.com"})
	raced := &raceDuplicateStore{
		Store:  inner,
		winner: domain.Recipe{ID: 42, AuthorID: user.ID, Title: "Apple Pie"},
	}
	a := newTestApp(t, raced, nil, nil)

	outcome, err := a.IngestImage(context.Background(), user, "pie.jpg", []byte("photo"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatal("race loser not reported as duplicate")
	}
	if outcome.Recipe.ID != 42 {
		t.Fatalf("recipe ID = %d, want winner 42", outcome.Recipe.ID)
	}
	if !raced.createAttempted {
		t.Fatal("create never attempted")
	}
}

func TestUpdateRecipeAuthorOnly(t *testing.T) {
	dataStore := store.NewMemoryStore()
	author := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	other := seedUser(t, dataStore, domain.User{ID: "chef-2", Email: "other@example.com"})
	a := newTestApp(t, dataStore, nil, nil)

	outcome, err := a.IngestImage(context.Background(), author, "pie.jpg", []byte("photo"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	recipeID := outcome.Recipe.ID

	if _, err := a.UpdateRecipe(other, recipeID, "Stolen", "", "# Stolen", ""); !errors.Is(err, ErrRecipeForbidden) {
		t.Fatalf("non-author edit err = %v, want ErrRecipeForbidden", err)
	}
	updated, err := a.UpdateRecipe(author, recipeID, "Grandma's Apple Pie", "The family classic.", "# Grandma's Apple Pie\n\nBake.", "🥧")
	if err != nil {
		t.Fatalf("author edit: %v", err)
	}
	if updated.Title != "Grandma's Apple Pie" || updated.Icon != "🥧" {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestShareRecipeGrantsReadAccess(t *testing.T) {
	dataStore := store.NewMemoryStore()
	author := seedUser(t, dataStore, domain.User{ID: "chef-1", Email: "chef@example.com"})
	friend := seedUser(t, dataStore, domain.User{ID: "chef-2", Email: "friend@example.com"})
	stranger := seedUser(t, dataStore, domain.User{ID: "chef-3", Email: "stranger@example.com"})
	a := newTestApp(t, dataStore, nil, nil)

	outcome, err := a.IngestImage(context.Background(), author, "pie.jpg", []byte("photo"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	recipeID := outcome.Recipe.ID

	if _, err := a.GetRecipe(friend, recipeID); !errors.Is(err, ErrRecipeForbidden) {
		t.Fatalf("pre-share read err = %v, want ErrRecipeForbidden", err)
	}
	if err := a.ShareRecipe(author, recipeID, "Friend@Example.com"); err != nil {
		t.Fatalf("share: %v", err)
	}
	// Sharing twice is a no-op.
	if err := a.ShareRecipe(author, recipeID, "friend@example.com"); err != nil {
		t.Fatalf("re-share: %v", err)
	}
	if _, err := a.GetRecipe(friend, recipeID); err != nil {
		t.Fatalf("post-share read: %v", err)
	}
	if _, err := a.GetRecipe(stranger, recipeID); !errors.Is(err, ErrRecipeForbidden) {
		t.Fatalf("stranger read err = %v, want ErrRecipeForbidden", err)
	}
	if err := a.ShareRecipe(author, recipeID, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown recipient err = %v, want ErrUserNotFound", err)
	}

	shared, err := a.ListSharedRecipes(friend)
	if err != nil {
		t.Fatalf("list shared: %v", err)
	}
	if len(shared) != 1 || shared[0].ID != recipeID {
		t.Fatalf("shared list = %+v, want recipe %d", shared, recipeID)
	}
}

func TestUpgradeToPremiumKeepsCounter(t *testing.T) {
	dataStore := store.NewMemoryStore()
	user := seedUser(t, dataStore, domain.User{
		ID:           "chef-1",
		Email:        "chef@example.com",
		ScanCount:    3,
		LastScanDate: time.Now().UTC(),
	})
	a := newTestApp(t, dataStore, nil, nil)

	upgraded, err := a.UpgradeToPremium(user)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if !upgraded.IsPremium {
		t.Fatal("user not premium after upgrade")
	}
	if upgraded.ScanCount != 3 {
		t.Fatalf("scan count = %d, want 3 preserved", upgraded.ScanCount)
	}
	// The remaining allowance this month is 20 minus the 3 already used.
	if _, err := a.IngestImage(context.Background(), upgraded, "pie.jpg", []byte("photo")); err != nil {
		t.Fatalf("post-upgrade ingest: %v", err)
	}
}
