// Package websocket pushes workflow notifications to browsers joined to groups.
//
// Every frame is a JSON text message:
//
//	-> {"op":"join","group":"generation:<uuid>","ref":"1"}
//	<- {"op":"joined","group":"generation:<uuid>","ref":"1"}
//	<- {"op":"notification","group":"generation:<uuid>","notification":{...}}
//
// Clients send join, leave and ping. The server answers with joined, left,
// pong or error, and pushes notification frames for joined groups.
package websocket

import (
	"strings"

	"github.com/openctemio/docflow/internal/app/notify"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// Op names a frame.
type Op string

// Client ops.
const (
	OpJoin  Op = "join"
	OpLeave Op = "leave"
	OpPing  Op = "ping"
)

// Server ops.
const (
	OpJoined       Op = "joined"
	OpLeft         Op = "left"
	OpPong         Op = "pong"
	OpNotification Op = "notification"
	OpError        Op = "error"
)

// Error codes carried by error frames.
const (
	CodeBadFrame       = "BAD_FRAME"
	CodeUnknownOp      = "UNKNOWN_OP"
	CodeForbiddenGroup = "FORBIDDEN_GROUP"
	CodeTooManyGroups  = "TOO_MANY_GROUPS"
)

// Frame is one message in either direction. Ref is echoed back on replies.
type Frame struct {
	Op           Op                   `json:"op"`
	Group        string               `json:"group,omitempty"`
	Ref          string               `json:"ref,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Error        *FrameError          `json:"error,omitempty"`
}

// FrameError explains a rejected frame.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFrame(ref, code, message string) Frame {
	return Frame{Op: OpError, Ref: ref, Error: &FrameError{Code: code, Message: message}}
}

// ParseGroup splits "prefix:id". A group without a colon has no prefix.
func ParseGroup(group string) (prefix, id string) {
	prefix, id, found := strings.Cut(group, ":")
	if !found {
		return "", group
	}
	return prefix, id
}

// AllowGroup accepts the worker status group and "<kind>:<correlation id>"
// groups of a known workflow kind.
func AllowGroup(group string) bool {
	if group == notify.GroupWorkers {
		return true
	}
	prefix, id := ParseGroup(group)
	if !workflow.Kind(prefix).IsValid() {
		return false
	}
	_, err := shared.IDFromString(id)
	return err == nil
}
