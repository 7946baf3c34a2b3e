package agent

import (
	"fmt"
	"strings"

	"github.com/ebongard/renfield/internal/agentrouter"
	"github.com/ebongard/renfield/internal/llm"
	"github.com/ebongard/renfield/internal/mcphub"
)

// allowedTools narrows catalog to the role manifest's tool-prefix
// allowlist. A nil/empty allowlist means the role gets no tools at
// all (spec §4.9's "conversation" role is the no-tools path).
func allowedTools(catalog []mcphub.ToolDescriptor, prefixes []string) []mcphub.ToolDescriptor {
	if len(prefixes) == 0 {
		return nil
	}
	var out []mcphub.ToolDescriptor
	for _, d := range catalog {
		qualified := d.QualifiedName()
		for _, p := range prefixes {
			if strings.HasPrefix(qualified, p) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func isToolAllowed(tool string, allowed []mcphub.ToolDescriptor) bool {
	for _, d := range allowed {
		if d.QualifiedName() == tool {
			return true
		}
	}
	return false
}

func lastN(messages []llm.Message, n int) []llm.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// buildStepPrompt assembles the agent step's complete_json prompt: the
// role's system policy, conversation context, role-filtered tool
// catalog, and the scratchpad (spec §4.10 "Loop").
func buildStepPrompt(manifest agentrouter.RoleManifestEntry, convContext []llm.Message, allowed []mcphub.ToolDescriptor, scratchpad []scratchpadEntry, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role policy: %s agent. Use at most %d steps before answering.\n", manifest.Label, manifest.MaxSteps)

	if len(convContext) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range convContext {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}

	if len(allowed) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, d := range allowed {
			fmt.Fprintf(&b, "- %s: %s\n", d.QualifiedName(), d.Description)
		}
	} else {
		b.WriteString("\nNo tools are available for this role; answer directly.\n")
	}

	if len(scratchpad) > 0 {
		b.WriteString("\nSteps so far:\n")
		for _, e := range scratchpad {
			fmt.Fprintf(&b, "- [%s] %s\n", e.kind, e.detail)
		}
	}

	fmt.Fprintf(&b, "\nUser message: %q\n", message)
	b.WriteString("\nRespond with JSON matching {\"action\": \"tool\"|\"final\", \"tool\": string, \"parameters\": object, \"reason\": string, \"final_answer\": string}.")
	return b.String()
}

// buildFinalMessages assembles the messages for the final-answer
// chat_stream call, folding the scratchpad in as assistant context.
func buildFinalMessages(manifest agentrouter.RoleManifestEntry, convContext []llm.Message, scratchpad []scratchpadEntry, message string) []llm.Message {
	messages := make([]llm.Message, 0, len(convContext)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: fmt.Sprintf("You are the %s agent. Answer the user's message using the steps already taken, in a natural conversational voice.", manifest.Label),
	})
	messages = append(messages, convContext...)

	if len(scratchpad) > 0 {
		var sb strings.Builder
		sb.WriteString("Steps taken:\n")
		for _, e := range scratchpad {
			fmt.Fprintf(&sb, "- [%s] %s\n", e.kind, e.detail)
		}
		messages = append(messages, llm.Message{Role: "system", Content: sb.String()})
	}

	messages = append(messages, llm.Message{Role: "user", Content: message})
	return messages
}
