package transport

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"parley/pkg/protocol"
)

// scopeProbe pulls just the routing ids out of a payload without a full
// typed decode.
type scopeProbe struct {
	ChatID     string `json:"chatId"`
	DownloadID string `json:"downloadId"`
}

// route is the fixed inbound dispatch table. Each frame type maps to one or
// more of: a scoped key (point-to-point by chat or download id), a
// broadcast key under the raw type, and a bus publication for cross-module
// consumers outside the listener registry. Unknown types are logged and
// still broadcast under their raw name.
func (s *Socket) route(env *protocol.Envelope) {
	var probe scopeProbe
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &probe); err != nil {
			log.Printf("[Transport] unreadable payload for %s frame: %v", env.Type, err)
		}
	}

	switch env.Type {
	case protocol.TypeToken, protocol.TypeComplete:
		s.dispatchScoped(probe.ChatID, env)

	case protocol.TypeChatToken, protocol.TypeChatComplete,
		protocol.TypeStreamStarted, protocol.TypeNewMessage,
		protocol.TypeChatError:
		s.dispatchScoped(probe.ChatID, env)

	case protocol.TypeToolStreamStarted, protocol.TypeToolStreamChunk,
		protocol.TypeToolStreamComplete, protocol.TypeToolStreamError:
		s.dispatchScoped(probe.ChatID, env)

	case protocol.TypeChatTitleUpdated:
		s.dispatchScoped(probe.ChatID, env)
		if p, err := env.Decode(); err == nil {
			if title, ok := p.(*protocol.TitleUpdatedPayload); ok {
				s.publish(string(protocol.TypeChatTitleUpdated), title)
			}
		}

	case protocol.TypeContextWarning, protocol.TypePerformanceWarning:
		s.dispatchScoped(probe.ChatID, env)
		if p, err := env.Decode(); err == nil {
			s.publish(string(env.Type), p)
		}

	case protocol.TypePing:
		// Server-initiated keepalive: answer and fan out.
		if err := s.Send(protocol.TypePong, protocol.PingPayload{Time: time.Now().UnixMilli()}); err != nil {
			log.Printf("[Transport] pong reply failed: %v", err)
		}
		s.registry.dispatch(BroadcastKey(env.Type), env)

	case protocol.TypePong:
		s.registry.dispatch(BroadcastKey(env.Type), env)

	default:
		switch {
		case env.HasPrefix(protocol.DownloadPrefix):
			kind := env.Subtype(protocol.DownloadPrefix)
			if probe.DownloadID != "" {
				s.registry.dispatch(DownloadKey(probe.DownloadID, kind), env)
			}
			s.registry.dispatch(BroadcastKey(env.Type), env)
			if p, err := env.Decode(); err == nil {
				s.publish(string(env.Type), p)
			}

		case env.HasPrefix(protocol.SharePrefix), env.HasPrefix(protocol.ActivationPrefix):
			s.registry.dispatch(BroadcastKey(env.Type), env)
			if p, err := env.Decode(); err == nil {
				s.publish(string(env.Type), p)
			}

		default:
			log.Printf("[Transport] unknown frame type %q, broadcasting as-is", env.Type)
			s.registry.dispatch(BroadcastKey(env.Type), env)
		}
	}
}

// dispatchScoped delivers to the chat-scoped key (when the payload names a
// chat) and always to the broadcast key for the raw type.
func (s *Socket) dispatchScoped(chatID string, env *protocol.Envelope) {
	if chatID = strings.TrimSpace(chatID); chatID != "" {
		s.registry.dispatch(ChatKey(chatID, kindOf(env.Type)), env)
	}
	s.registry.dispatch(BroadcastKey(env.Type), env)
}

// kindOf strips the chat: prefix so chat:token and token share the scoped
// kind "token"; other types keep their full name.
func kindOf(t protocol.MessageType) string {
	return strings.TrimPrefix(string(t), "chat:")
}
