package embeddings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"mcpregistry-go/internal/config"
)

const defaultTitanModel = "amazon.titan-embed-text-v2:0"

// BedrockProvider calls the Bedrock runtime InvokeModel API with a Titan
// embedding model. Titan v2 emits 1024-dimension vectors.
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
	dims   int
	logger *zap.Logger
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewBedrockProvider builds the client from the default AWS credential chain.
func NewBedrockProvider(cfg *config.EmbeddingsConfig, logger *zap.Logger) (*BedrockProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	model := cfg.ModelName
	if model == "" || model == "hashing-v1" {
		model = defaultTitanModel
	}

	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
		dims:   cfg.Dimensions,
		logger: logger,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Dimensions() int { return p.dims }

// Embed invokes the Titan model and returns the embedding vector.
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{
		InputText:  text,
		Dimensions: p.dims,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke failed for model %s: %w", p.model, err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(resp.Embedding) != p.dims {
		return nil, fmt.Errorf("model %s returned %d dimensions, expected %d",
			p.model, len(resp.Embedding), p.dims)
	}

	return resp.Embedding, nil
}
