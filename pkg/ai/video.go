package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultVideoBaseURL = "https://api.klingai.com"

// Provider-side task states.
const (
	TaskSubmitted  = "submitted"
	TaskProcessing = "processing"
	TaskSucceed    = "succeed"
	TaskFailed     = "failed"
)

// VideoClient calls the image-to-video generation API. Requests carry a
// short-lived HS256 bearer token minted from the access/secret key pair.
type VideoClient struct {
	accessKey  string
	secretKey  string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewVideoClient constructs a client for the given credentials.
func NewVideoClient(accessKey, secretKey, baseURL, model string) (*VideoClient, error) {
	accessKey = strings.TrimSpace(accessKey)
	secretKey = strings.TrimSpace(secretKey)
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("video api access and secret keys required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultVideoBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = "kling-v1-6"
	}
	return &VideoClient{
		accessKey:  accessKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Model returns the configured generation model name.
func (c *VideoClient) Model() string { return c.model }

// VideoTask is the provider view of a generation job.
type VideoTask struct {
	ProviderID string
	Status     string
	VideoURL   string
	Message    string
}

// CreateTask submits an image-to-video generation job.
func (c *VideoClient) CreateTask(ctx context.Context, imageRef, prompt, duration, mode string) (VideoTask, error) {
	reqBody := createTaskRequest{
		Model:    c.model,
		Image:    imageRef,
		Prompt:   prompt,
		Duration: duration,
		Mode:     mode,
	}
	var resp taskResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/videos/image2video", reqBody, &resp); err != nil {
		return VideoTask{}, err
	}
	return taskFromData(resp.Data), nil
}

// GetTask fetches the current state of a generation job.
func (c *VideoClient) GetTask(ctx context.Context, providerID string) (VideoTask, error) {
	var resp taskResponse
	path := "/v1/videos/image2video/" + providerID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return VideoTask{}, err
	}
	return taskFromData(resp.Data), nil
}

func taskFromData(d taskData) VideoTask {
	task := VideoTask{
		ProviderID: d.TaskID,
		Status:     d.TaskStatus,
		Message:    d.TaskStatusMsg,
	}
	if len(d.TaskResult.Videos) > 0 {
		task.VideoURL = d.TaskResult.Videos[0].URL
	}
	return task
}

func (c *VideoClient) doJSON(ctx context.Context, method, path string, payload any, out *taskResponse) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	token, err := c.bearerToken()
	if err != nil {
		return fmt.Errorf("mint api token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 || out.Code != 0 {
		msg := out.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("video api error: %s", msg)
	}
	return nil
}

func (c *VideoClient) bearerToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.accessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.secretKey))
}

type createTaskRequest struct {
	Model    string `json:"model_name"`
	Image    string `json:"image"`
	Prompt   string `json:"prompt,omitempty"`
	Duration string `json:"duration,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

type taskResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    taskData `json:"data"`
}

type taskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Videos []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"videos"`
	} `json:"task_result"`
}
