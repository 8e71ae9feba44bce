// Package intent classifies user messages into routing categories using a
// fast model, with a keyword heuristic fallback when the model is
// unavailable or returns unparseable output.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/llm"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// Category is the routing category assigned to a user message.
type Category string

const (
	CategoryGreeting           Category = "greeting"
	CategorySimpleQuestion     Category = "simple_question"
	CategoryCalculationRequest Category = "calculation_request"
	CategoryDocumentRequest    Category = "document_request"
	CategoryComplexAnalysis    Category = "complex_analysis"
	CategoryObjectionHandling  Category = "objection_handling"
	CategoryNextSteps          Category = "next_steps"
	CategoryOffTopic           Category = "off_topic"
)

// Classification is the result of classifying one user message.
type Classification struct {
	Category            Category `json:"category"`
	Confidence          float64  `json:"confidence"`
	RequiresCalculation bool     `json:"requiresCalculation"`
	SuggestedModel      string   `json:"suggestedModel"`
	Reasoning           string   `json:"reasoning"`
}

// Context carries conversation facts that sharpen classification.
type Context struct {
	Lead      model.LeadProfile
	TurnCount int
	Phase     model.Phase
}

// Classifier assigns a routing category to a user message.
type Classifier interface {
	Classify(ctx context.Context, message string, convCtx *Context) (*Classification, error)
}

// LLMClassifier classifies with a small fast model and falls back to
// keyword heuristics on any failure.
type LLMClassifier struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewLLMClassifier creates a classifier backed by the given LLM client.
func NewLLMClassifier(client llm.Client, modelName string, logger *zap.Logger) *LLMClassifier {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &LLMClassifier{
		client: client,
		model:  modelName,
		logger: logger,
	}
}

const classificationSystemPrompt = `You are an intent classifier for mortgage advisory conversations in Singapore.

Classify user messages into ONE of these categories:

1. greeting - Hi, hello, how are you, etc.
2. simple_question - Basic info questions answerable from context (e.g., "What's the interest rate?")
3. calculation_request - Requires mortgage calculations (e.g., "How much can I borrow?", "What's my monthly payment?")
4. document_request - Asking for documents, forms, reports
5. complex_analysis - Multi-factor analysis (e.g., "Should I buy now or wait?", "Compare HDB vs condo investment")
6. objection_handling - Concerns, doubts, pushback (e.g., "This seems expensive", "I'm not sure")
7. next_steps - Ready to proceed, schedule meeting, apply
8. off_topic - Unrelated to mortgages

Respond in JSON format:
{
  "category": "simple_question",
  "confidence": 0.85,
  "requiresCalculation": false,
  "suggestedModel": "gpt-4o-mini",
  "reasoning": "User asking about interest rates, straightforward info query"
}

Model selection guidelines:
- gpt-4o-mini: greetings, simple questions, next steps
- gpt-4o: calculation explanations
- claude-3.5-sonnet: complex analysis, multi-factor decisions`

// Classify sends the message to the fast model; any error or unparseable
// response falls back to HeuristicClassify, so classification never fails.
func (c *LLMClassifier) Classify(ctx context.Context, message string, convCtx *Context) (*Classification, error) {
	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		Model:       c.model,
		System:      classificationSystemPrompt,
		Messages:    []llm.ChatMessage{{Role: "user", Content: buildClassificationPrompt(message, convCtx)}},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		c.logger.Warn("intent classification failed, using heuristics", zap.Error(err))
		result := HeuristicClassify(message)
		metrics.IntentClassifications.WithLabelValues(string(result.Category), "heuristic").Inc()
		return result, nil
	}

	result, err := parseClassification(resp.Content)
	if err != nil {
		c.logger.Warn("unparseable classification response, using heuristics",
			zap.Error(err),
			zap.String("response", resp.Content))
		result = HeuristicClassify(message)
		metrics.IntentClassifications.WithLabelValues(string(result.Category), "heuristic").Inc()
		return result, nil
	}

	metrics.IntentClassifications.WithLabelValues(string(result.Category), "llm").Inc()
	return result, nil
}

func buildClassificationPrompt(message string, convCtx *Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify this message: %q", message)

	if convCtx != nil {
		b.WriteString("\n\nConversation context:")
		fmt.Fprintf(&b, "\n- User: %s", convCtx.Lead.Name)
		loanType := convCtx.Lead.LoanType
		if loanType == "" {
			loanType = "not specified"
		}
		fmt.Fprintf(&b, "\n- Loan type: %s", loanType)
		fmt.Fprintf(&b, "\n- Lead score: %d/100", convCtx.Lead.LeadScore)
		fmt.Fprintf(&b, "\n- Conversation turns: %d", convCtx.TurnCount)
		if convCtx.Phase != "" {
			fmt.Fprintf(&b, "\n- Phase: %s", convCtx.Phase)
		}
	}

	return b.String()
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

var validCategories = map[Category]bool{
	CategoryGreeting:           true,
	CategorySimpleQuestion:     true,
	CategoryCalculationRequest: true,
	CategoryDocumentRequest:    true,
	CategoryComplexAnalysis:    true,
	CategoryObjectionHandling:  true,
	CategoryNextSteps:          true,
	CategoryOffTopic:           true,
}

func parseClassification(text string) (*Classification, error) {
	raw := jsonObjectPattern.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var result Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if !validCategories[result.Category] {
		return nil, fmt.Errorf("unknown category %q", result.Category)
	}
	if result.Confidence == 0 {
		result.Confidence = 0.7
	}
	if result.SuggestedModel == "" {
		result.SuggestedModel = "gpt-4o-mini"
	}
	if result.Reasoning == "" {
		result.Reasoning = "No reasoning provided"
	}
	return &result, nil
}

var (
	greetingPattern    = regexp.MustCompile(`(?i)^(hi|hello|hey|good morning|good afternoon|good evening)`)
	calculationPattern = regexp.MustCompile(`(?i)(how much|can i (borrow|afford)|monthly payment|loan amount|interest rate|tdsr|msr|cpf)`)
	documentPattern    = regexp.MustCompile(`(?i)(document|form|report|paperwork|download|send me)`)
	complexPattern     = regexp.MustCompile(`(?i)(should i|compare|better|worse|invest|worth it|analyze)`)
	nextStepsPattern   = regexp.MustCompile(`(?i)(apply|proceed|schedule|meet|appointment|ready|let's go|sign up)`)
	objectionPattern   = regexp.MustCompile(`(?i)(expensive|too much|not sure|worried|concern|hesitant|doubt)`)
)

// HeuristicClassify classifies by keyword matching. Patterns are checked in
// priority order; the first match wins.
func HeuristicClassify(message string) *Classification {
	switch {
	case greetingPattern.MatchString(message):
		return &Classification{
			Category:       CategoryGreeting,
			Confidence:     0.9,
			SuggestedModel: "gpt-4o-mini",
			Reasoning:      "Heuristic: greeting detected",
		}
	case calculationPattern.MatchString(message):
		return &Classification{
			Category:            CategoryCalculationRequest,
			Confidence:          0.8,
			RequiresCalculation: true,
			SuggestedModel:      "gpt-4o",
			Reasoning:           "Heuristic: calculation keywords detected",
		}
	case documentPattern.MatchString(message):
		return &Classification{
			Category:       CategoryDocumentRequest,
			Confidence:     0.85,
			SuggestedModel: "gpt-4o-mini",
			Reasoning:      "Heuristic: document request keywords",
		}
	case complexPattern.MatchString(message):
		return &Classification{
			Category:       CategoryComplexAnalysis,
			Confidence:     0.7,
			SuggestedModel: "claude-3.5-sonnet",
			Reasoning:      "Heuristic: complex decision keywords",
		}
	case nextStepsPattern.MatchString(message):
		return &Classification{
			Category:       CategoryNextSteps,
			Confidence:     0.85,
			SuggestedModel: "gpt-4o-mini",
			Reasoning:      "Heuristic: action keywords",
		}
	case objectionPattern.MatchString(message):
		return &Classification{
			Category:       CategoryObjectionHandling,
			Confidence:     0.75,
			SuggestedModel: "gpt-4o",
			Reasoning:      "Heuristic: objection keywords detected",
		}
	default:
		return &Classification{
			Category:       CategorySimpleQuestion,
			Confidence:     0.6,
			SuggestedModel: "gpt-4o-mini",
			Reasoning:      "Heuristic: default classification",
		}
	}
}

// ToUserIntent maps a routing category to the tracked conversation intent.
func ToUserIntent(category Category) model.Intent {
	switch category {
	case CategoryGreeting:
		return model.IntentGreeting
	case CategorySimpleQuestion:
		return model.IntentQuestionRates
	case CategoryCalculationRequest:
		return model.IntentQuestionCalculation
	case CategoryDocumentRequest:
		return model.IntentProvideInfo
	case CategoryComplexAnalysis:
		return model.IntentQuestionEligibility
	case CategoryObjectionHandling:
		return model.IntentExpressConcern
	case CategoryNextSteps:
		return model.IntentReadyToProceed
	default:
		return model.IntentUnclear
	}
}
