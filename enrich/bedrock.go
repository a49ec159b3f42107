package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/justapithecus/lookout/faults"
)

// BedrockAPI is the Bedrock Runtime client surface used by the oracle.
// Satisfied by *bedrockruntime.Client; tests inject stubs.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOracle invokes a hosted model through Bedrock Runtime using
// the Anthropic messages body format.
type BedrockOracle struct {
	client  BedrockAPI
	modelID string
}

// NewBedrockOracle creates an oracle bound to one model.
func NewBedrockOracle(client BedrockAPI, modelID string) (*BedrockOracle, error) {
	if modelID == "" {
		return nil, errors.New("bedrock oracle requires a model id")
	}
	return &BedrockOracle{client: client, modelID: modelID}, nil
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockRequest struct {
	AnthropicVersion string            `json:"anthropic_version"`
	MaxTokens        int               `json:"max_tokens"`
	Temperature      float64           `json:"temperature"`
	Messages         []bedrockMessage  `json:"messages"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type bedrockResponse struct {
	Content []bedrockContentBlock `json:"content"`
}

// Generate invokes the model once and returns the concatenated text
// blocks. The batch id rides in request metadata so duplicate calls
// under retry are attributable server-side.
func (o *BedrockOracle) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: req.Prompt}},
		}},
		Metadata: map[string]string{"user_id": req.BatchID},
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := o.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(o.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: invoke %s: %w", o.modelID, err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("%w: bedrock: decode response: %v", faults.ErrMalformedResponse, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: bedrock: response has no text content", faults.ErrMalformedResponse)
	}

	return sb.String(), nil
}

var _ Oracle = (*BedrockOracle)(nil)
