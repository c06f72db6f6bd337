// Package bedrock adapts the canonical chat-completion shape to the AWS
// Bedrock Converse API. It follows goadesign-goa-ai's features/model/bedrock
// client, in particular its RuntimeClient interface-over-concrete-client
// seam and lazy construction, simplified to this gateway's single-turn,
// tool-free canonical request/response.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/llmsecgw/gateway/pkg/apitypes"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// needs, so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Config configures the Bedrock adapter.
type Config struct {
	Region          string
	ModelID         string
	AccessKeyID     string // optional; empty uses the default credential chain
	SecretAccessKey string
}

// Adapter implements provider.Adapter against AWS Bedrock Converse.
type Adapter struct {
	runtime RuntimeClient
	modelID string
}

// New constructs an Adapter, resolving AWS credentials eagerly but leaving
// no network call until the first Complete/Stream (the SDK client itself
// doesn't dial until invoked).
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.ModelID == "" {
		return nil, errors.New("bedrock: model id is required")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &Adapter{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.ModelID,
	}, nil
}

// NewWithRuntime builds an Adapter around an already-constructed runtime
// client, used by tests to inject a fake.
func NewWithRuntime(runtime RuntimeClient, modelID string) *Adapter {
	return &Adapter{runtime: runtime, modelID: modelID}
}

// Complete issues a single Converse call.
func (a *Adapter) Complete(ctx context.Context, req apitypes.Request) (apitypes.Response, error) {
	system, messages := splitMessages(req.Messages)

	out, err := a.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(a.modelID),
		System:   system,
		Messages: messages,
	})
	if err != nil {
		return apitypes.Response{}, wrapError("converse", err)
	}

	return toResponse(a.modelID, out)
}

// Stream issues a ConverseStream call and translates Bedrock's event stream
// into canonical chunks on a background goroutine, the same
// offload-then-channel shape as goadesign-goa-ai's bedrockStreamer, since
// the AWS SDK's stream reader is itself synchronous per-event.
func (a *Adapter) Stream(ctx context.Context, req apitypes.Request) (<-chan apitypes.Chunk, error) {
	system, messages := splitMessages(req.Messages)

	out, err := a.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(a.modelID),
		System:   system,
		Messages: messages,
	})
	if err != nil {
		return nil, wrapError("converse_stream", err)
	}

	chunks := make(chan apitypes.Chunk, 16)
	go runStream(ctx, out.GetStream(), chunks)
	return chunks, nil
}

func runStream(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, out chan<- apitypes.Chunk) {
	defer close(out)
	defer stream.Close()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
					emit(ctx, out, apitypes.Chunk{Kind: apitypes.ChunkError, ErrorType: "stream_error", ErrorMessage: err.Error()})
				}
				emit(ctx, out, apitypes.Chunk{Kind: apitypes.ChunkTerminal})
				return
			}
			if chunk, ok := translateEvent(event); ok {
				if !emit(ctx, out, chunk) {
					return
				}
			}
		}
	}
}

func emit(ctx context.Context, out chan<- apitypes.Chunk, c apitypes.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func translateEvent(event brtypes.ConverseStreamOutput) (apitypes.Chunk, bool) {
	switch v := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return apitypes.Chunk{Kind: apitypes.ChunkRole, Role: apitypes.Role(v.Value.Role)}, true
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok {
			return apitypes.Chunk{Kind: apitypes.ChunkDelta, Delta: d.Value}, true
		}
		return apitypes.Chunk{}, false
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return apitypes.Chunk{Kind: apitypes.ChunkFinish, FinishReason: string(v.Value.StopReason)}, true
	default:
		return apitypes.Chunk{}, false
	}
}

func splitMessages(msgs []apitypes.Message) ([]brtypes.SystemContentBlock, []brtypes.Message) {
	var system []brtypes.SystemContentBlock
	var out []brtypes.Message
	for _, m := range msgs {
		switch m.Role {
		case apitypes.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		default:
			out = append(out, brtypes.Message{
				Role:    converseRole(m.Role),
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return system, out
}

func converseRole(r apitypes.Role) brtypes.ConversationRole {
	if r == apitypes.RoleAssistant {
		return brtypes.ConversationRoleAssistant
	}
	return brtypes.ConversationRoleUser
}

func toResponse(modelID string, out *bedrockruntime.ConverseOutput) (apitypes.Response, error) {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return apitypes.Response{}, errors.New("bedrock: converse output missing message")
	}

	var text string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += t.Value
		}
	}

	resp := apitypes.Response{
		Model: modelID,
		Choices: []apitypes.Choice{{
			Index:        0,
			Message:      apitypes.Message{Role: apitypes.RoleAssistant, Content: text},
			FinishReason: string(out.StopReason),
		}},
	}
	if out.Usage != nil {
		resp.Usage = apitypes.Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

func wrapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("bedrock: %s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("bedrock: %s: %w", op, err)
}
