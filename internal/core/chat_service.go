package core

import (
	"context"
	"log"
	"strings"

	"github.com/vuelogic/schedule-agent/internal/store"
)

// ChatService runs one chat turn: assemble the system prompt, dispatch to the
// provider, then persist both turns best-effort.
type ChatService struct {
	assembler  *PromptAssembler
	dispatcher *Dispatcher
	store      *store.Store
}

func NewChatService(a *PromptAssembler, d *Dispatcher, st *store.Store) *ChatService {
	return &ChatService{
		assembler:  a,
		dispatcher: d,
		store:      st,
	}
}

// Chat returns (reply, errorText). Provider failures come back as text so the
// endpoint can report them without failing the request. The conversation is
// only persisted when a session id is given and the provider succeeded;
// persistence failures are logged, never surfaced.
func (s *ChatService) Chat(ctx context.Context, sessionID, message string, history []store.Message) (string, string) {
	userContent := strings.TrimSpace(message)
	system := s.assembler.Assemble(ctx, sessionID)

	messages := make([]store.Message, 0, len(history)+1)
	for _, h := range history {
		if h.Role == "user" || h.Role == "assistant" {
			messages = append(messages, h)
		}
	}
	messages = append(messages, store.Message{Role: "user", Content: userContent})

	reply, errText := s.dispatcher.Send(ctx, system, messages)

	if sessionID != "" && errText == "" {
		if err := s.store.AppendToConversation(ctx, sessionID, "user", userContent); err != nil {
			log.Printf("Failed to persist user turn for session %s: %v", sessionID, err)
		}
		if err := s.store.AppendToConversation(ctx, sessionID, "assistant", reply); err != nil {
			log.Printf("Failed to persist assistant turn for session %s: %v", sessionID, err)
		}
	}

	return reply, errText
}
