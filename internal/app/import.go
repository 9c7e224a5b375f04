package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"recipesnap/pkg/domain"
	"recipesnap/pkg/store"
)

// ImportFromURL ingests a recipe from a public web page. The fetched
// bytes are fingerprinted the same way uploads are, so importing the
// same page twice dedups instead of charging a second scan.
func (a *App) ImportFromURL(ctx context.Context, user domain.User, rawURL string) (IngestOutcome, error) {
	pageURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return IngestOutcome{}, fmt.Errorf("invalid url")
	}

	body, err := a.fetchPage(ctx, pageURL.String())
	if err != nil {
		return IngestOutcome{}, err
	}
	fingerprint := Fingerprint(body)
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

	text := normalizeText(pageText(body))
	if text == "" {
		return IngestOutcome{}, fmt.Errorf("%w: page contains no text", ErrExtractionFailed)
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
			Source:         domain.SourceURL,
			SourceURL:      pageURL.String(),
			ExtractedChars: len(text),
			Model:          a.generatorModel,
		},
	}
	created, err := a.store.CreateRecipeCharged(store.ChargedCreate{
		Recipe:       recipe,
		Limit:        a.scanLimit(user),
		EnforceLimit: user.Role != domain.RoleAdmin,
		Now:          time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateImage) {
		if existing, ok, lookupErr := a.store.GetRecipeByFingerprint(user.ID, fingerprint); lookupErr == nil && ok {
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
	return IngestOutcome{Recipe: created}, nil
}

func (a *App) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "recipesnap/1.0")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch page: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxImportBytes))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty page", ErrExtractionFailed)
	}
	return body, nil
}

// pageText extracts the visible text of an HTML document. Non-HTML input
// passes through as-is.
func pageText(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		case html.ElementNode:
			switch node.Data {
			case "script", "style", "nav", "footer", "noscript":
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "br", "div", "li", "h1", "h2", "h3", "tr":
				sb.WriteString("\n")
			}
		}
	}
	walk(doc)
	return sb.String()
}
