package app

import (
	"errors"
	"fmt"
)

var (
	// ErrRecipeNotFound indicates the recipe does not exist.
	ErrRecipeNotFound = errors.New("recipe not found")

	// ErrRecipeForbidden indicates the caller is neither the author nor a
	// share recipient of the recipe.
	ErrRecipeForbidden = errors.New("recipe access forbidden")

	// ErrExtractionFailed indicates OCR or parsing produced no usable text.
	ErrExtractionFailed = errors.New("could not extract text from upload")

	// ErrSynthesisFailed indicates the language model response could not
	// be parsed into a recipe.
	ErrSynthesisFailed = errors.New("could not synthesize recipe")

	// ErrTranslationFailed indicates the language model response could not
	// be parsed into a translation.
	ErrTranslationFailed = errors.New("could not translate recipe")

	// ErrUserNotFound indicates no account exists for the given email.
	ErrUserNotFound = errors.New("user not found")
)

// QuotaExceededError rejects an ingestion attempt because the author has
// used all scans in the current calendar month for their tier.
type QuotaExceededError struct {
	Limit int
	Count int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly scan limit of %d reached", e.Limit)
}
