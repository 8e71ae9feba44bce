package collaborator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextnest/broker-pipeline/internal/llm"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/orchestrator"
)

// BrokerResponder generates persona-voiced replies through an LLM provider.
type BrokerResponder struct {
	client       llm.Client
	defaultModel string
}

// modelAliases translates the classifier's advisory model names into concrete
// API model IDs per provider. The classifier reasons in capability tiers; the
// responder owns the binding to whichever provider is actually wired.
var modelAliases = map[string]map[string]string{
	string(llm.ProviderOpenAI): {
		"gpt-4o-mini":       "gpt-4o-mini",
		"gpt-4o":            "gpt-4o",
		"claude-3.5-sonnet": "gpt-4o",
	},
	string(llm.ProviderAnthropic): {
		"gpt-4o-mini":       "claude-3-5-haiku-20241022",
		"gpt-4o":            "claude-3-5-sonnet-20241022",
		"claude-3.5-sonnet": "claude-3-5-sonnet-20241022",
	},
}

// NewBrokerResponder creates a responder using the given LLM client. An empty
// default model picks the provider's standard reply model.
func NewBrokerResponder(client llm.Client, defaultModel string) *BrokerResponder {
	if defaultModel == "" {
		switch client.Name() {
		case string(llm.ProviderOpenAI):
			defaultModel = "gpt-4o"
		default:
			defaultModel = "claude-3-5-sonnet-20241022"
		}
	}
	return &BrokerResponder{client: client, defaultModel: defaultModel}
}

// resolveModel maps an advisory model name onto the wired provider. Unknown
// names fall back to the default model rather than reaching the provider as
// an invalid ID. Providers without an alias table take the name verbatim.
func (r *BrokerResponder) resolveModel(suggested string) string {
	if suggested == "" {
		return r.defaultModel
	}
	aliases, ok := modelAliases[r.client.Name()]
	if !ok {
		return suggested
	}
	if id, ok := aliases[suggested]; ok {
		return id
	}
	return r.defaultModel
}

// Respond generates a reply in the persona's voice, with the bounded
// conversation history as context.
func (r *BrokerResponder) Respond(ctx context.Context, req *orchestrator.ResponseRequest) (*orchestrator.ResponseResult, error) {
	messages := make([]llm.ChatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: req.Message})

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model:       r.resolveModel(req.Model),
		System:      systemPrompt(req.Persona, req.Lead),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}

	return &orchestrator.ResponseResult{
		Content:    resp.Content,
		Model:      resp.Model,
		TokensUsed: resp.TokensOut,
	}, nil
}

// systemPrompt formats the persona and lead into the responder's system
// prompt. A persona with an explicit SystemPrompt overrides the template.
func systemPrompt(persona model.Persona, lead model.LeadProfile) string {
	if persona.SystemPrompt != "" {
		return persona.SystemPrompt
	}

	name := persona.Name
	if name == "" {
		name = "Alex"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a mortgage advisor at NextNest Mortgage Advisory in Singapore.\n\n", name)

	if persona.Style != "" {
		fmt.Fprintf(&b, "Your style: %s\n\n", persona.Style)
	}

	b.WriteString("Customer context:\n")
	fmt.Fprintf(&b, "- Name: %s\n", lead.Name)
	fmt.Fprintf(&b, "- Lead score: %d/100\n", lead.LeadScore)
	loanType := lead.LoanType
	if loanType == "" {
		loanType = "not specified"
	}
	fmt.Fprintf(&b, "- Loan type: %s\n", strings.ReplaceAll(loanType, "_", " "))
	if lead.PropertyPrice > 0 {
		fmt.Fprintf(&b, "- Property price: S$%.0f\n", lead.PropertyPrice)
	}
	if lead.MonthlyIncome > 0 {
		fmt.Fprintf(&b, "- Monthly income: S$%.0f\n", lead.MonthlyIncome)
	}

	b.WriteString(`
Guidelines:
1. Stay in character and focus on the Singapore mortgage market (HDB, private property, BTO).
2. Be specific with numbers when possible; use realistic ranges, never invented bank rates.
3. Keep responses concise, two to three short paragraphs maximum.
4. End with a specific question to continue the conversation naturally.
5. Never provide regulated financial advice.
6. If the customer seems frustrated, acknowledge it and offer a human specialist.
7. Use Singapore context where relevant (CPF, TDSR, MSR, condo, HDB).`)

	return b.String()
}
