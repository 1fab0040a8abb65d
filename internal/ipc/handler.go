package ipc

import (
	"context"
	"fmt"

	"henkan/internal/session"
)

// Handler processes session messages for one connection.
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, conn *Conn, msg *Message) (*Message, error)
}

// SessionHandler forwards each request to the connection's session.
type SessionHandler struct{}

// HandleMessage dispatches msg to conn.Session. Session errors are sent back
// as MsgError; only encoding failures are returned as errors.
func (SessionHandler) HandleMessage(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	s := conn.Session
	if s == nil {
		return NewErrorMessage(msg, ErrCodeNotInitialized, "no session"), nil
	}

	switch msg.Header.Type {
	case MsgSendKey:
		var req SendKeyRequest
		if err := Decode(msg, &req); err != nil {
			return NewErrorMessage(msg, ErrCodeInvalidRequest, err.Error()), nil
		}
		out, err := s.SendKey(req.Key)
		if err != nil {
			return NewErrorMessage(msg, errorCode(err), err.Error()), nil
		}
		return NewResponse(msg, MsgSendKeyResp, &OutputResponse{Output: out})

	case MsgSendCommand:
		var req SendCommandRequest
		if err := Decode(msg, &req); err != nil {
			return NewErrorMessage(msg, ErrCodeInvalidRequest, err.Error()), nil
		}
		out, err := s.SendCommand(req.Command)
		if err != nil {
			return NewErrorMessage(msg, errorCode(err), err.Error()), nil
		}
		return NewResponse(msg, MsgSendCommandResp, &OutputResponse{Output: out})

	case MsgGetConfig:
		cfg, err := s.GetConfig()
		if err != nil {
			return NewErrorMessage(msg, errorCode(err), err.Error()), nil
		}
		return NewResponse(msg, MsgGetConfigResp, &ConfigResponse{Config: cfg})

	case MsgSetConfig:
		var req SetConfigRequest
		if err := Decode(msg, &req); err != nil {
			return NewErrorMessage(msg, ErrCodeInvalidRequest, err.Error()), nil
		}
		if req.Config == nil {
			return NewErrorMessage(msg, ErrCodeInvalidRequest, "missing config"), nil
		}
		if err := s.SetConfig(req.Config); err != nil {
			return NewErrorMessage(msg, errorCode(err), err.Error()), nil
		}
		return NewResponse(msg, MsgSetConfigResp, nil)

	case MsgSyncData:
		if err := s.SyncData(); err != nil {
			return NewErrorMessage(msg, errorCode(err), err.Error()), nil
		}
		return NewResponse(msg, MsgSyncDataResp, nil)

	case MsgLaunchTool:
		var req LaunchToolRequest
		if err := Decode(msg, &req); err != nil {
			return NewErrorMessage(msg, ErrCodeInvalidRequest, err.Error()), nil
		}
		if err := s.LaunchTool(req.Name, req.Arg); err != nil {
			return NewErrorMessage(msg, errorCode(err), err.Error()), nil
		}
		return NewResponse(msg, MsgLaunchToolResp, nil)

	default:
		return NewErrorMessage(msg, ErrCodeInvalidRequest, fmt.Sprintf("unexpected message %s", msg.Header.Type)), nil
	}
}

// SessionFactory creates the session served on a new connection.
type SessionFactory func() session.Client
