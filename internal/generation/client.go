package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
)

const (
	GeneratePath = "/generate_async"
	FinishPath   = "/finish_generation"
	LatestPath   = "/latest_result"
	InitPath     = "/"

	authRequiredMessage = "Spotify connection required."
	networkMessage      = "Connection lost during generation."
	serverErrorMessage  = "Server error"
	badPayloadMessage   = "Invalid server response"
	rateLimitedMessage  = "Too many requests. Wait a moment and try again."
)

// AuthRequiredError reports that the backend needs Spotify authorization before it can generate.
type AuthRequiredError struct {
	AuthURL string
}

func (e *AuthRequiredError) Error() string {
	return "spotify authorization required: " + e.AuthURL
}

// Backend is the generation surface of the aria backend.
type Backend interface {
	Generate(ctx context.Context, prompt string) (*models.GenerationResult, error)
	FinishGeneration(ctx context.Context) (*models.GenerationResult, error)
	LatestResult(ctx context.Context) *models.GenerationResult
}

// Client calls the backend generation endpoints.
type Client struct {
	api    *services.APIService
	logger *log.Logger
}

// NewClient creates a [Client] on api.
func NewClient(api *services.APIService, logger *log.Logger) *Client {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Client{api: api, logger: logger}
}

type authResponse struct {
	NeedAuth bool   `json:"need_auth"`
	AuthURL  string `json:"auth_url"`
	Error    string `json:"error"`
}

type generateResponse struct {
	models.GenerationResult
	Result *models.GenerationResult `json:"result"`
}

type finishResponse struct {
	OK     bool                     `json:"ok"`
	Result *models.GenerationResult `json:"result"`
}

// Generate submits prompt.
//
// A 401 carrying need_auth and auth_url yields [*AuthRequiredError]; any other failure is a [*shared.FlowError].
// The result may be top-level or nested under "result".
func (c *Client) Generate(ctx context.Context, prompt string) (*models.GenerationResult, error) {
	resp, err := c.api.PostForm(ctx, GeneratePath, url.Values{"prompt": {prompt}})
	if err != nil {
		return nil, shared.NewFlowError(shared.CodeNetwork, networkMessage).Wrap(err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var auth authResponse
		if resp.Decode(&auth) == nil && auth.NeedAuth && auth.AuthURL != "" {
			return nil, &AuthRequiredError{AuthURL: auth.AuthURL}
		}
		return nil, shared.NewFlowError(shared.CodeAuthError, authRequiredMessage)
	}

	if !resp.OK() {
		c.logger.Warn("Generate request failed", "status", resp.StatusCode)
		return nil, rejection(resp)
	}

	var body generateResponse
	if !resp.IsJSON || resp.Decode(&body) != nil {
		return nil, shared.NewFlowError(shared.CodeUnknown, badPayloadMessage)
	}
	if body.Result != nil {
		return body.Result, nil
	}
	return &body.GenerationResult, nil
}

// rejection classifies a failed response.
//
// A 429 or any other 4xx means the backend refused this request, so it is not worth recovering a stale result.
// 5xx stays [shared.CodeUnknown].
func rejection(resp *services.APIResponse) *shared.FlowError {
	cause := fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return shared.NewFlowError(shared.CodeRateLimited, rateLimitedMessage).Wrap(cause)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var body authResponse
		if resp.IsJSON && resp.Decode(&body) == nil && body.Error != "" {
			return shared.NewFlowError(shared.CodeRejected, body.Error).Wrap(cause)
		}
		return shared.NewFlowError(shared.CodeRejected, "").Wrap(cause)
	default:
		return shared.NewFlowError(shared.CodeUnknown, serverErrorMessage).Wrap(cause)
	}
}

// FinishGeneration completes the prompt the backend holds for this session.
//
// The returned result is nil when the backend stored it without echoing it.
func (c *Client) FinishGeneration(ctx context.Context) (*models.GenerationResult, error) {
	resp, err := c.api.Post(ctx, FinishPath, nil)
	if err != nil {
		return nil, shared.NewFlowError(shared.CodeNetwork, networkMessage).Wrap(err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, shared.NewFlowError(shared.CodeFinishFailed, "").WithReason(shared.ReasonNoPrompt)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, shared.NewFlowError(shared.CodeAuthError, authRequiredMessage).WithReason(shared.ReasonNoClient)
	case !resp.OK():
		return nil, rejection(resp)
	}

	var body finishResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil || !body.OK {
		c.logger.Warn("finish_generation response parse failed", "status", resp.StatusCode)
		return nil, shared.NewFlowError(shared.CodeFinishFailed, badPayloadMessage).WithReason(shared.ReasonBadPayload)
	}
	return body.Result, nil
}

// LatestResult fetches the most recent result, or nil when none is available.
func (c *Client) LatestResult(ctx context.Context) *models.GenerationResult {
	resp, err := c.api.Get(ctx, LatestPath)
	if err != nil {
		c.logger.Error("latest_result fetch failed", "error", err)
		return nil
	}
	if resp.StatusCode == http.StatusNoContent || !resp.OK() {
		return nil
	}

	result, err := models.DecodeResult(resp.Body)
	if err != nil {
		c.logger.Error("latest_result fetch failed", "error", err)
		return nil
	}
	return result
}

// Init fetches the page initialisation payload.
func (c *Client) Init(ctx context.Context) (*models.InitPayload, error) {
	resp, err := c.api.Get(ctx, InitPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var payload models.InitPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
