package invoker

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/kazz187/reviewguild/internal/agent"
	"github.com/kazz187/reviewguild/internal/task"
)

const geminiBackendName = "gemini"

var geminiModels = map[agent.ModelTier]string{
	agent.TierFast:     "gemini-2.5-flash",
	agent.TierBalanced: "gemini-2.5-flash",
	agent.TierDeep:     "gemini-2.5-pro",
}

// GeminiBackend runs agents as single GenerateContent calls. The agent's
// permitted tools are declared as functions; any function call the model
// returns is judged by the guard, so an undeclared or restricted call is a
// violation.
type GeminiBackend struct {
	cli *genai.Client
}

func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiBackend{cli: cli}, nil
}

func (b *GeminiBackend) Name() string { return geminiBackendName }

func (b *GeminiBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	model, ok := geminiModels[req.Tier]
	if !ok {
		model = geminiModels[agent.TierBalanced]
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}},
	}
	if decls := functionDeclarations(req.Guard.Permitted()); len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := b.cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}}},
		config,
	)
	if err != nil {
		return nil, classifyError(geminiBackendName, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewModelError(KindMalformed, geminiBackendName, errors.New("no candidates in response"))
	}

	out := &Response{Content: collectParts(ctx, req.Guard, resp.Candidates[0].Content.Parts)}
	out.Usage = task.Usage{Backend: geminiBackendName, Model: model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage.InputTokens = int(u.PromptTokenCount)
		out.Usage.OutputTokens = int(u.CandidatesTokenCount)
		out.Usage.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

// collectParts joins the text parts and runs function calls past guard.
// Only the decision is recorded; tools are not executed by this backend.
func collectParts(ctx context.Context, guard *ToolGuard, parts []*genai.Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if part.FunctionCall != nil {
			if err := guard.Check(part.FunctionCall.Name, part.FunctionCall.Args); err != nil {
				slog.WarnContext(ctx, "tool request denied", "tool", part.FunctionCall.Name, "error", err)
			}
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func functionDeclarations(tools []string) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, name := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        name,
			Description: "Request the " + name + " tool.",
		})
	}
	return decls
}
