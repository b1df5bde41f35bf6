// Package adk is a small tool-calling agent loop used by the assistant
// command. Tools are read-only views over the audit engine.
package adk

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/user/hostaudit/pkg/logging"
)

// ErrTooManyToolCalls stops a conversation turn that keeps calling tools.
var ErrTooManyToolCalls = errors.New("too many tool calls in one turn")

// DefaultMaxToolCalls bounds tool calls per Chat.
const DefaultMaxToolCalls = 8

// Tool represents an executable action for the agent
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]any, progress func(string)) (string, error)
	Schema() map[string]any // JSON schema for arguments
}

// ToolCall represents a request from the LLM to execute a tool
type ToolCall struct {
	ToolName string
	Args     map[string]any
}

// Role of a history message.
type Role string

const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleFunction Role = "function"
)

// Message represents a chat message. Call is set on model messages that
// requested a tool; Tool names the tool a function message answers.
type Message struct {
	Role    Role
	Content string
	Call    *ToolCall
	Tool    string
}

// LLMProvider defines the interface for different AI models
type LLMProvider interface {
	GenerateResponse(ctx context.Context, system string, history []Message, tools []Tool) (string, *ToolCall, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Agent is the core agent
type Agent struct {
	llm          LLMProvider
	tools        map[string]Tool
	history      []Message
	system       string
	MaxToolCalls int
}

// NewAgent creates a new agent with the given LLM provider
func NewAgent(llm LLMProvider) *Agent {
	return &Agent{
		llm:          llm,
		tools:        make(map[string]Tool),
		MaxToolCalls: DefaultMaxToolCalls,
	}
}

// RegisterTool adds a tool to the agent's registry
func (a *Agent) RegisterTool(t Tool) {
	a.tools[t.Name()] = t
}

// SetSystemPrompt sets the instruction sent with every request.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.system = prompt
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []Message {
	return append([]Message(nil), a.history...)
}

// Tools returns the registered tools sorted by name.
func (a *Agent) Tools() []Tool {
	list := make([]Tool, 0, len(a.tools))
	for _, t := range a.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Chat sends a message to the agent and returns the response
func (a *Agent) Chat(ctx context.Context, input string, progress func(string)) (string, error) {
	a.history = append(a.history, Message{Role: RoleUser, Content: input})
	if progress == nil {
		progress = func(string) {}
	}

	tools := a.Tools()
	for calls := 0; ; calls++ {
		if calls > a.MaxToolCalls {
			return "", ErrTooManyToolCalls
		}
		respText, toolCall, err := a.llm.GenerateResponse(ctx, a.system, a.history, tools)
		if err != nil {
			return "", err
		}

		if toolCall == nil {
			a.history = append(a.history, Message{Role: RoleModel, Content: respText})
			return respText, nil
		}

		logging.Logger.Debugw("executing tool", "tool", toolCall.ToolName, "args", toolCall.Args)
		a.history = append(a.history, Message{Role: RoleModel, Content: respText, Call: toolCall})

		tool, exists := a.tools[toolCall.ToolName]
		if !exists {
			a.history = append(a.history, Message{
				Role:    RoleFunction,
				Tool:    toolCall.ToolName,
				Content: fmt.Sprintf("Error: tool %s not found", toolCall.ToolName),
			})
			continue
		}

		progress(fmt.Sprintf("running %s", tool.Name()))
		result, err := tool.Execute(ctx, toolCall.Args, progress)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			result = fmt.Sprintf("Error executing tool: %v", err)
		}
		a.history = append(a.history, Message{Role: RoleFunction, Tool: toolCall.ToolName, Content: result})
	}
}
