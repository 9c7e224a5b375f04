package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultVisionBaseURL = "https://vision.googleapis.com/v1"

// VisionClient runs OCR through the Google Cloud Vision REST API.
type VisionClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewVisionClient constructs a client for the given API key.
func NewVisionClient(apiKey string) (*VisionClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("vision api key required")
	}
	return &VisionClient{
		apiKey:     apiKey,
		baseURL:    defaultVisionBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithBaseURL overrides the API endpoint, used by tests.
func (c *VisionClient) WithBaseURL(baseURL string) *VisionClient {
	c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return c
}

// ExtractText runs TEXT_DETECTION over the image and returns the full
// detected text. Returns ErrNoTextDetected when the image yields no
// annotations.
func (c *VisionClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	reqBody := visionAnnotateRequest{
		Requests: []visionImageRequest{{
			Image:    visionImage{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []visionFeature{{Type: "TEXT_DETECTION"}},
		}},
	}

	url := fmt.Sprintf("%s/images:annotate?key=%s", c.baseURL, c.apiKey)
	var resp visionAnnotateResponse
	if err := postJSON(ctx, c.httpClient, url, "", reqBody, &resp, "vision", visionErrorMessage); err != nil {
		return "", err
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("empty response from vision")
	}
	annotated := resp.Responses[0]
	if annotated.Error.Message != "" {
		return "", fmt.Errorf("vision annotate error: %s", annotated.Error.Message)
	}
	if len(annotated.TextAnnotations) == 0 {
		return "", ErrNoTextDetected
	}
	// The first annotation carries the full detected text; the rest are
	// per-word boxes.
	text := strings.TrimSpace(annotated.TextAnnotations[0].Description)
	if text == "" {
		return "", ErrNoTextDetected
	}
	return text, nil
}

func visionErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &envelope)
	return envelope.Error.Message
}

type visionImage struct {
	Content string `json:"content"`
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionImageRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionAnnotateRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionTextAnnotation struct {
	Description string `json:"description"`
}

type visionAnnotateResponse struct {
	Responses []struct {
		TextAnnotations []visionTextAnnotation `json:"textAnnotations"`
		Error           struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}
