package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recipesnap/pkg/domain"
)

const translationSystemPrompt = `You are a culinary translator. Translate the given recipe into the requested language. Preserve the markdown structure, measurements, and formatting exactly; translate only the natural-language text. Keep quantities and units as written.

Respond with a single JSON object and nothing else:
{"title": "<translated title>", "summary": "<translated summary>", "content": "<translated markdown content>"}`

// languageNames maps common ISO 639-1 codes to the display name used in
// translation prompts. Unknown codes fall back to the code itself.
var languageNames = map[string]string{
	"ar": "Arabic",
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"hi": "Hindi",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"tr": "Turkish",
	"zh": "Chinese",
}

// TranslateRecipe returns the recipe in the requested language, serving
// from the cache when a translation already exists. Cache writes are best
// effort: a failed upsert is logged and the fresh translation is still
// returned, so the worst case is regenerating it on the next request.
func (a *App) TranslateRecipe(ctx context.Context, user domain.User, recipeID int64, languageCode, languageName string) (domain.RecipeTranslation, error) {
	languageCode = strings.ToLower(strings.TrimSpace(languageCode))
	if languageCode == "" {
		return domain.RecipeTranslation{}, fmt.Errorf("language code required")
	}
	recipe, err := a.visibleRecipe(recipeID, user)
	if err != nil {
		return domain.RecipeTranslation{}, err
	}
	cached, ok, err := a.store.GetTranslation(recipeID, languageCode)
	if err != nil {
		return domain.RecipeTranslation{}, fmt.Errorf("load translation cache: %w", err)
	}
	if ok {
		return cached, nil
	}

	translated, err := a.generateTranslation(ctx, recipe, languageCode, languageName)
	if err != nil {
		return domain.RecipeTranslation{}, err
	}
	now := time.Now().UTC()
	translation := domain.RecipeTranslation{
		RecipeID:     recipeID,
		LanguageCode: languageCode,
		Title:        translated.Title,
		Summary:      translated.Summary,
		Content:      translated.Content,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.UpsertTranslation(translation); err != nil {
		slog.Warn("persist translation cache failed",
			"recipe_id", recipeID,
			"language", languageCode,
			"error", err)
	}
	return translation, nil
}

type translationPayload struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

func (a *App) generateTranslation(ctx context.Context, recipe domain.Recipe, languageCode, languageName string) (translationPayload, error) {
	languageName = strings.TrimSpace(languageName)
	if languageName == "" {
		if name, ok := languageNames[languageCode]; ok {
			languageName = name
		} else {
			languageName = languageCode
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Target language: %s (%s)\n\n", languageName, languageCode)
	fmt.Fprintf(&sb, "Title: %s\n", recipe.Title)
	if recipe.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", recipe.Summary)
	}
	sb.WriteString("\nContent:\n")
	sb.WriteString(recipe.Content)

	ctx, cancel := context.WithTimeout(ctx, a.aiTimeout)
	defer cancel()
	raw, err := a.generator.GenerateText(ctx, translationSystemPrompt, sb.String())
	if err != nil {
		return translationPayload{}, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}
	payload, err := parseTranslation(raw)
	if err != nil {
		return translationPayload{}, err
	}
	return payload, nil
}

// parseTranslation extracts the JSON object from a model response that
// may wrap it in code fences or surrounding prose.
func parseTranslation(raw string) (translationPayload, error) {
	text := stripCodeFence(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return translationPayload{}, fmt.Errorf("%w: no JSON object in response", ErrTranslationFailed)
	}
	var payload translationPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return translationPayload{}, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Content) == "" {
		return translationPayload{}, fmt.Errorf("%w: missing title or content", ErrTranslationFailed)
	}
	return payload, nil
}
