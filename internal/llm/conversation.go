package llm

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Roles declared in the metadata envelope.
const (
	envelopeUserRole      = "writer"
	envelopeAssistantRole = "autocomplete"
)

// Envelope wraps user-authored content so the model can tell the document
// apart from its instructions.
type Envelope struct {
	Metadata EnvelopeMetadata `json:"metadata"`
	Document string           `json:"document"`
}

// EnvelopeMetadata identifies the writer and the declared roles.
type EnvelopeMetadata struct {
	Username      string `json:"username"`
	UserRole      string `json:"user_role"`
	AssistantRole string `json:"assistant_role"`
}

// WrapDocument renders content inside the metadata envelope for identity.
func WrapDocument(identity, content string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings cannot fail.
	_ = enc.Encode(Envelope{
		Metadata: EnvelopeMetadata{
			Username:      identity,
			UserRole:      envelopeUserRole,
			AssistantRole: envelopeAssistantRole,
		},
		Document: content,
	})
	return strings.TrimSuffix(buf.String(), "\n")
}

// BuildConversation assembles [system] + examples + [user] in that order.
// Every non-assistant example and the live user turn are wrapped with
// WrapDocument; assistant examples pass through unchanged.
func BuildConversation(req Request) []Message {
	msgs := make([]Message, 0, len(req.Examples)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	for _, ex := range req.Examples {
		if ex.Role == RoleAssistant {
			msgs = append(msgs, ex)
			continue
		}
		msgs = append(msgs, Message{Role: ex.Role, Content: WrapDocument(req.Identity, ex.Content)})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: WrapDocument(req.Identity, req.UserText)})
	return msgs
}
