// Package gemini wraps the Gemini GenerateContent API behind a small
// interface with function-calling support.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sells-group/insight-cli/internal/resilience"
)

// Client defines the Gemini API operations used by the agent.
type Client interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

// Request is our own request type for GenerateContent.
type Request struct {
	Model           string
	System          string
	Contents        []Content
	Temperature     *float32
	MaxOutputTokens int32
	Functions       []FunctionDeclaration
}

// Content is one conversational turn. Model turns may carry function calls;
// user turns may carry function responses.
type Content struct {
	Role      string // "user" or "model"
	Text      string
	Calls     []FunctionCall
	Responses []FunctionResponse
}

// FunctionDeclaration describes a callable function. Parameters is a JSON
// schema object.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FunctionCall is a call requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse answers a FunctionCall.
type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Response is our own response type from GenerateContent.
type Response struct {
	Text         string
	Calls        []FunctionCall
	FinishReason string
	Usage        Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens    int32
	CandidateTokens int32
}

type sdkClient struct {
	models *genai.Models
}

// NewClient creates a Gemini API client. baseURL overrides the endpoint and
// is empty in production.
func NewClient(ctx context.Context, apiKey, baseURL string) (Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{models: c.Models}, nil
}

func (c *sdkClient) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Functions) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Functions))
		for i, f := range req.Functions {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 f.Name,
				Description:          f.Description,
				ParametersJsonSchema: f.Parameters,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.models.GenerateContent(ctx, req.Model, toSDKContents(req.Contents), cfg)
	if err != nil {
		return nil, classify(eris.Wrap(err, "gemini: generate content"), err)
	}
	return fromSDKResponse(resp), nil
}

// classify marks retryable API failures as transient.
func classify(wrapped, raw error) error {
	var apiErr genai.APIError
	if errors.As(raw, &apiErr) {
		return resilience.ClassifyStatus(wrapped, apiErr.Code)
	}
	return wrapped
}

func toSDKContents(contents []Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		var parts []*genai.Part
		for _, r := range c.Responses {
			p := genai.NewPartFromFunctionResponse(r.Name, r.Response)
			p.FunctionResponse.ID = r.ID
			parts = append(parts, p)
		}
		if c.Text != "" {
			parts = append(parts, genai.NewPartFromText(c.Text))
		}
		for _, fc := range c.Calls {
			p := genai.NewPartFromFunctionCall(fc.Name, fc.Args)
			p.FunctionCall.ID = fc.ID
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if c.Role == genai.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}

func fromSDKResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		cand := resp.Candidates[0]
		out.FinishReason = string(cand.FinishReason)
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				out.Calls = append(out.Calls, FunctionCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				})
			case p.Text != "" && !p.Thought:
				text.WriteString(p.Text)
			}
		}
		out.Text = text.String()
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:    resp.UsageMetadata.PromptTokenCount,
			CandidateTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	zap.L().Debug("gemini: usage",
		zap.Int32("prompt_tokens", out.Usage.PromptTokens),
		zap.Int32("candidate_tokens", out.Usage.CandidateTokens),
	)
	return out
}
