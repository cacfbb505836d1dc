package http

import (
	"encoding/json"

	"github.com/deskchat/deskchat-server/internal/core"
	"github.com/deskchat/deskchat-server/internal/proto"
	"github.com/deskchat/deskchat-server/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		if join.Username == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "username is required"}, nil
		}
		role := core.Role(join.Role)
		if role != core.RoleAdmin && role != core.RoleUser {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "role must be admin or user"}, nil
		}
		return &core.Command{
			Kind:     core.CommandJoin,
			Username: join.Username,
			Role:     role,
		}, nil, nil
	case proto.InboundTypeMessage:
		var msg proto.MessageData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		if msg.Body == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "body is required"}, nil
		}
		return &core.Command{
			Kind:   core.CommandSendMessage,
			Body:   msg.Body,
			Target: msg.Target,
		}, nil, nil
	case proto.InboundTypeTyping:
		var typing proto.TypingData
		if err := json.Unmarshal(inbound.Data, &typing); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind:     core.CommandTyping,
			IsTyping: typing.IsTyping,
			Target:   typing.Target,
		}, nil, nil
	case proto.InboundTypeMarkAsRead:
		var mark proto.MarkAsReadData
		if err := json.Unmarshal(inbound.Data, &mark); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind: core.CommandMarkRead,
			Room: mark.Room,
		}, nil, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventAdminJoined:
		return proto.Outbound{
			Type: proto.OutboundTypeAdminJoined,
			Data: proto.AdminJoinedData{
				Username:      event.Username,
				Conversations: conversationsToProto(event.Conversations),
				Presence:      presenceToProto(event.Presence),
			},
		}
	case core.EventUserJoined:
		history := make([]proto.MessageEvent, 0, len(event.History))
		for _, msg := range event.History {
			history = append(history, messageToProto(msg))
		}
		return proto.Outbound{
			Type: proto.OutboundTypeUserJoined,
			Data: proto.UserJoinedData{
				Username: event.Username,
				Room:     event.Room,
				History:  history,
			},
		}
	case core.EventMessage:
		return proto.Outbound{
			Type: proto.OutboundTypeMessage,
			Data: messageToProto(event.Message),
		}
	case core.EventNewUser:
		return proto.Outbound{
			Type: proto.OutboundTypeNewUser,
			Data: proto.UserEventData{Username: event.Username, Room: event.Room},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type: proto.OutboundTypeUserLeft,
			Data: proto.UserEventData{Username: event.Username, Room: event.Room},
		}
	case core.EventTyping:
		return proto.Outbound{
			Type: proto.OutboundTypeTyping,
			Data: proto.TypingEvent{
				Username: event.Username,
				Room:     event.Room,
				IsTyping: event.IsTyping,
			},
		}
	case core.EventHelpRequest:
		return proto.Outbound{
			Type: proto.OutboundTypeHelpRequest,
			Data: helpRequestToProto(event.HelpRequest),
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown event"}}
	}
}

func messageToProto(msg *store.Message) proto.MessageEvent {
	if msg == nil {
		return proto.MessageEvent{}
	}
	return proto.MessageEvent{
		ID:        msg.ID,
		Room:      msg.Room,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Body:      msg.Body,
		Timestamp: msg.CreatedAt.Unix(),
		IsRead:    msg.IsRead,
	}
}

func conversationsToProto(conversations []core.Conversation) []proto.ConversationData {
	out := make([]proto.ConversationData, 0, len(conversations))
	for _, conv := range conversations {
		data := proto.ConversationData{
			Username:    conv.Username,
			Room:        conv.Room,
			UnreadCount: conv.UnreadCount,
		}
		if conv.LastMessage != nil {
			last := messageToProto(conv.LastMessage)
			data.LastMessage = &last
		}
		out = append(out, data)
	}
	return out
}

func presenceToProto(records []*store.Presence) []proto.PresenceData {
	out := make([]proto.PresenceData, 0, len(records))
	for _, p := range records {
		out = append(out, proto.PresenceData{
			Username: p.Username,
			Room:     p.Room,
			Role:     p.Role,
			JoinedAt: p.JoinedAt.Unix(),
		})
	}
	return out
}

func helpRequestToProto(hr *store.HelpRequest) proto.HelpRequestData {
	if hr == nil {
		return proto.HelpRequestData{}
	}
	return proto.HelpRequestData{
		ID:        hr.ID,
		Username:  hr.Username,
		Room:      hr.Room,
		Message:   hr.Message,
		Status:    string(hr.Status),
		CreatedAt: hr.CreatedAt.Unix(),
	}
}
