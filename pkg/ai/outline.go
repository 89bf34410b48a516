package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultOutlineModel  = "gemini-2.0-flash-exp"
)

const outlineInstruction = "Convert this family photo into a black-and-white coloring book page. " +
	"Draw bold, clean contour lines, remove all color and shading, keep every person and pet " +
	"recognizable, and leave large open areas to color in."

// OutlineClient calls the Google AI Studio (Gemini) image generation API.
type OutlineClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOutlineClient constructs a client with the provided API key.
func NewOutlineClient(apiKey, model string) (*OutlineClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	model = strings.TrimSpace(strings.TrimPrefix(model, "models/"))
	if model == "" {
		model = defaultOutlineModel
	}
	return &OutlineClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// OutlineResult is the generated coloring outline image plus any text the
// model emitted alongside it (diagnostic only).
type OutlineResult struct {
	ImageData   []byte
	MimeType    string
	Diagnostics string
}

// GenerateOutline streams a generation request carrying the photo inline
// and accumulates the response parts. The last inline image part wins;
// text parts are collected as diagnostics. It is an error when the stream
// carries no image at all.
func (c *OutlineClient) GenerateOutline(ctx context.Context, imageData []byte, mimeType, extraPrompt string) (OutlineResult, error) {
	instruction := outlineInstruction
	if strings.TrimSpace(extraPrompt) != "" {
		instruction += " " + strings.TrimSpace(extraPrompt)
	}
	reqBody := generateRequest{
		Contents: []content{
			{
				Role: "user",
				Parts: []part{
					{Text: instruction},
					{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(imageData)}},
				},
			},
		},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return OutlineResult{}, err
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return OutlineResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OutlineResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return OutlineResult{}, fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return OutlineResult{}, fmt.Errorf("gemini api error: %s", resp.Status)
	}

	// The stream is a JSON array of chunks, decoded element by element.
	dec := json.NewDecoder(resp.Body)
	if _, err := dec.Token(); err != nil {
		return OutlineResult{}, fmt.Errorf("read stream: %w", err)
	}
	var result OutlineResult
	var diagnostics strings.Builder
	for dec.More() {
		var chunk generateResponse
		if err := dec.Decode(&chunk); err != nil {
			return OutlineResult{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						return OutlineResult{}, fmt.Errorf("decode image part: %w", err)
					}
					result.ImageData = data
					result.MimeType = p.InlineData.MimeType
					continue
				}
				if p.Text != "" {
					diagnostics.WriteString(p.Text)
				}
			}
		}
	}
	result.Diagnostics = diagnostics.String()
	if len(result.ImageData) == 0 {
		return OutlineResult{}, fmt.Errorf("gemini returned no image part")
	}
	if result.MimeType == "" {
		result.MimeType = "image/png"
	}
	return result, nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
