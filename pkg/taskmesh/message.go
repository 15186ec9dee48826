package taskmesh

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

/*
Message represents one conversation turn inside a Task.  A Message belongs
to exactly one Task and a Task's message list is append-only: messages are
never removed or reordered once appended.
*/
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:  role,
		Parts: []Part{NewTextPart(text)},
	}
}

func NewDataMessage(role Role, data map[string]any) Message {
	return Message{
		Role:  role,
		Parts: []Part{NewDataPart(data)},
	}
}

/*
Flatten reduces the message to a single string suitable as agent input.
Text parts contribute their text verbatim, Data parts a JSON rendering,
File parts only their reference URI.  Contributions are joined by
newlines, in part order.  An empty part list yields the empty string.
*/
func (msg *Message) Flatten() string {
	segments := make([]string, 0, len(msg.Parts))

	for _, part := range msg.Parts {
		switch part.Type {
		case PartTypeText:
			segments = append(segments, part.Text)
		case PartTypeData:
			buf, err := json.Marshal(part.Data)
			if err != nil {
				continue
			}
			segments = append(segments, string(buf))
		case PartTypeFile:
			// Files carry no inline text, only a reference.
			if part.File != nil && part.File.URI != "" {
				segments = append(segments, part.File.URI)
			}
		}
	}

	return strings.Join(segments, "\n")
}
