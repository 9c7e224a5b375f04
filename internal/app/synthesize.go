package app

import (
	"context"
	"fmt"
	"strings"
)

const untitledRecipe = "Untitled Recipe"

const synthesisSystemPrompt = `You are a recipe transcriptionist. You receive raw text extracted from a photographed or scanned recipe. The text may contain OCR noise, handwriting artifacts, or fragments of unrelated page content.

Reconstruct the recipe as a markdown document with this exact shape:

SUMMARY: <one appetizing sentence describing the dish>

# <Recipe Title>

## Description
<one short paragraph>

## Yield
<servings or quantity, if determinable>

## Time
<prep and cook time, if determinable>

## Ingredients
- <quantity> <ingredient>
...

## Instructions
1. <step>
...

## Notes
<optional tips, substitutions, or source remarks>

Rules:
- The first line must be the SUMMARY line, followed by a blank line, then the markdown document.
- Keep all quantities and ingredients from the source text. If steps are garbled or missing, reconstruct plausible instructions from the ingredient list.
- Omit the Yield, Time, or Notes sections when the source gives nothing for them.
- Output only the summary line and the markdown document. No code fences, no commentary.`

type synthesizedRecipe struct {
	Title   string
	Summary string
	Content string
}

func (a *App) synthesize(ctx context.Context, sourceText string) (synthesizedRecipe, error) {
	ctx, cancel := context.WithTimeout(ctx, a.aiTimeout)
	defer cancel()
	userPrompt := "Extracted recipe text:\n\n" + sourceText
	raw, err := a.generator.GenerateText(ctx, synthesisSystemPrompt, userPrompt)
	if err != nil {
		return synthesizedRecipe{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	recipe, err := parseSynthesis(raw)
	if err != nil {
		return synthesizedRecipe{}, err
	}
	return recipe, nil
}

// parseSynthesis splits a model response into summary and markdown body.
// The summary is the SUMMARY-prefixed block at the top, terminated by the
// first blank line. Models that skip the marker still yield a usable
// recipe with an empty summary.
func parseSynthesis(raw string) (synthesizedRecipe, error) {
	text := strings.TrimSpace(stripCodeFence(raw))
	if text == "" {
		return synthesizedRecipe{}, fmt.Errorf("%w: empty response", ErrSynthesisFailed)
	}
	var recipe synthesizedRecipe
	lines := strings.Split(text, "\n")
	first := strings.TrimSpace(lines[0])
	if rest, ok := cutPrefixFold(first, "SUMMARY:"); ok {
		summaryLines := []string{strings.TrimSpace(rest)}
		i := 1
		for ; i < len(lines); i++ {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				break
			}
			summaryLines = append(summaryLines, line)
		}
		recipe.Summary = strings.TrimSpace(strings.Join(summaryLines, " "))
		recipe.Content = strings.TrimSpace(strings.Join(lines[i:], "\n"))
	} else {
		recipe.Content = text
	}
	if recipe.Content == "" {
		return synthesizedRecipe{}, fmt.Errorf("%w: no recipe body", ErrSynthesisFailed)
	}
	recipe.Title = headingTitle(recipe.Content)
	return recipe, nil
}

// headingTitle returns the text of the first level-one markdown heading.
func headingTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "# "); ok {
			if title := strings.TrimSpace(after); title != "" {
				return title
			}
		}
	}
	return untitledRecipe
}

// stripCodeFence unwraps a response the model wrapped entirely in a
// markdown code fence.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	body := trimmed[3:]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return body
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
