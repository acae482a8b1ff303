package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/logger"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"
)

const submitReplyTool = "SubmitReply"

type submitReplyInput struct {
	Text       string `json:"text"`
	NextState  string `json:"next_state,omitempty"`
	ScoreDelta int    `json:"score_delta,omitempty"`
	NextAction string `json:"next_action,omitempty"`
	Marketing  bool   `json:"marketing,omitempty"`
}

type submitReplyOutput struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// submission holds what the model submitted during one run.
type submission struct {
	mu    sync.Mutex
	input *submitReplyInput
}

func (s *submission) set(in submitReplyInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = &in
}

func (s *submission) get() *submitReplyInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// LLMResponder drafts replies with an ADK agent. Each call gets its own
// agent, runner and session so concurrent leads share no state.
type LLMResponder struct {
	role     Role
	llm      model.LLM
	fallback ports.Responder
	log      *logger.Logger
}

var _ ports.Responder = (*LLMResponder)(nil)

func NewLLMResponder(role Role, llm model.LLM, fallback ports.Responder, log *logger.Logger) *LLMResponder {
	return &LLMResponder{role: role, llm: llm, fallback: fallback, log: log}
}

func (r *LLMResponder) Name() string { return string(r.role) }

// Respond runs the agent once. A model that never submits a reply falls
// back to its free text, then to the template. A failed model call also
// falls back to the template unless ctx is done.
func (r *LLMResponder) Respond(ctx context.Context, in ports.ResponderInput) (ports.Reply, error) {
	sub := &submission{}
	submit, err := newSubmitTool(in.Lead.State, sub)
	if err != nil {
		return ports.Reply{}, fmt.Errorf("build %s tool: %w", submitReplyTool, err)
	}

	appName := "responder_" + string(r.role)
	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "Responder_" + string(r.role),
		Model:       r.llm,
		Description: "Writes the next SMS to a home-services lead.",
		Instruction: instructionFor(r.role),
		Tools:       []tool.Tool{submit},
	})
	if err != nil {
		return ports.Reply{}, fmt.Errorf("create %s agent: %w", r.role, err)
	}

	sessionService := session.InMemoryService()
	run, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return ports.Reply{}, fmt.Errorf("create %s runner: %w", r.role, err)
	}

	userID := "lead-" + in.Lead.ID.String()
	sessionID := uuid.New().String()
	if _, err := sessionService.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return ports.Reply{}, fmt.Errorf("failed to create session: %w", err)
	}

	userMessage := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: buildPrompt(in)}},
	}

	var freeText strings.Builder
	for event, err := range run.Run(ctx, userID, sessionID, userMessage, agent.RunConfig{StreamingMode: agent.StreamingModeNone}) {
		if err != nil {
			return r.afterFailure(ctx, in, err)
		}
		if event == nil || event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			if part != nil && part.Text != "" {
				freeText.WriteString(part.Text)
			}
		}
	}

	if got := sub.get(); got != nil {
		return ports.Reply{
			Text:       strings.TrimSpace(got.Text),
			NextState:  domain.State(got.NextState),
			ScoreDelta: clampScore(got.ScoreDelta),
			NextAction: got.NextAction,
			Marketing:  got.Marketing,
		}, nil
	}

	r.log.Warn("agent: model did not submit a reply, using fallback", "role", r.role, "leadId", in.Lead.ID)
	if text := strings.TrimSpace(freeText.String()); text != "" && !in.FirstMessage {
		return ports.Reply{Text: text}, nil
	}
	return r.fallback.Respond(ctx, in)
}

func (r *LLMResponder) afterFailure(ctx context.Context, in ports.ResponderInput, runErr error) (ports.Reply, error) {
	if ctx.Err() != nil || r.fallback == nil {
		return ports.Reply{}, fmt.Errorf("%s model call: %w", r.role, runErr)
	}
	r.log.Warn("agent: model call failed, using fallback", "role", r.role, "leadId", in.Lead.ID, "error", runErr)
	return r.fallback.Respond(ctx, in)
}

func newSubmitTool(current domain.State, sub *submission) (tool.Tool, error) {
	allowed := allowedNextStates(current)
	return functiontool.New(functiontool.Config{
		Name:        submitReplyTool,
		Description: "Submits the SMS to send to the lead and the state the lead should move to.",
	}, func(_ tool.Context, input submitReplyInput) (submitReplyOutput, error) {
		if strings.TrimSpace(input.Text) == "" {
			return submitReplyOutput{Message: "text is required"}, nil
		}
		next := domain.State(input.NextState)
		if next != "" && next != current && !containsState(allowed, next) {
			return submitReplyOutput{Message: fmt.Sprintf("next_state %q is not allowed from %s", next, current)}, nil
		}
		sub.set(input)
		return submitReplyOutput{Accepted: true}, nil
	})
}

func containsState(states []domain.State, s domain.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func clampScore(delta int) int {
	switch {
	case delta > 20:
		return 20
	case delta < -20:
		return -20
	default:
		return delta
	}
}
