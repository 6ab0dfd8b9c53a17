// Package protocol defines the wire payloads exchanged between a debug
// session and its visualization host. Field names are part of the host
// contract and can't change.
package protocol

import (
	"encoding/json"
)

// outbound message discriminators (the "message" field)
const (
	MsgWebviewCreate      = "webviewCreate"
	MsgWebviewPostMessage = "webviewPostMessage"
	MsgWebviewReveal      = "webviewReveal"
)

// outbound event discriminators (the "type" field)
const (
	EvGetCheckpoints        = "GetCheckpoints"
	EvGetCheckpointByAccess = "GetCheckpointByAccess"
	EvWatchCommand          = "WatchCommand"
	EvDebuggerMessage       = "DebuggerMessage"
)

// inbound discriminators
const (
	MsgWebviewDidDispose = "webviewDidDispose"
)

// TypeCheckpointData tags the record posted into a live panel.
const TypeCheckpointData = "checkpointData"

// ///// ///// /////

// ///// DATA MODEL

// ///// ///// /////

// Frame is one call stack entry captured at a memory access.
type Frame struct {
	Module      string `json:"module"`
	FileAddress uint64 `json:"file_address"`
	LoadAddress uint64 `json:"load_address"`
}

// CheckpointRecord is a recorded memory access paired with the stack that
// was active at that access. Frames[0] is the innermost frame.
type CheckpointRecord struct {
	LastAccess uint64  `json:"last_access"`
	Frames     []Frame `json:"frames"`
}

// ///// ///// /////

// ///// MESSAGES (UI-side actions)

// ///// ///// /////

// WebviewCreate requests a new panel from the host.
type WebviewCreate struct {
	Message                 string `json:"message"`
	Id                      string `json:"id"`
	Html                    string `json:"html"`
	Title                   string `json:"title"`
	ViewColumn              int    `json:"viewColumn"`
	PreserveFocus           bool   `json:"preserveFocus"`
	EnableFindWidget        bool   `json:"enableFindWidget"`
	RetainContextWhenHidden bool   `json:"retainContextWhenHidden"`
	EnableScripts           bool   `json:"enableScripts"`
	PreserveOrphaned        bool   `json:"preserveOrphaned"`
}

// CheckpointData is the record posted into an existing panel.
type CheckpointData struct {
	Type string             `json:"type"`
	Json []CheckpointRecord `json:"json"`
}

// WebviewPostMessage addresses a CheckpointData record to a live panel.
type WebviewPostMessage struct {
	Message string         `json:"message"`
	Id      string         `json:"id"`
	Inner   CheckpointData `json:"inner"`
}

// WebviewReveal brings an existing panel into view.
type WebviewReveal struct {
	Message    string `json:"message"`
	Id         string `json:"id"`
	ViewColumn int    `json:"viewColumn"`
}

// ///// ///// /////

// ///// EVENTS (notifications)

// ///// ///// /////

// GetCheckpoints asks the session for the full checkpoint list.
type GetCheckpoints struct {
	Type string `json:"type"`
}

// GetCheckpointByAccess asks for the checkpoint matching a single access.
type GetCheckpointByAccess struct {
	Type       string `json:"type"`
	LastAccess uint64 `json:"last_access"`
}

// WatchCommand requests a watch on a memory page.
type WatchCommand struct {
	Type    string `json:"type"`
	Address uint64 `json:"address"`
}

// DebuggerMessage carries diagnostic output to the host console.
type DebuggerMessage struct {
	Type     string `json:"type"`
	Output   string `json:"output"`
	Category string `json:"category"`
}

// ///// ///// /////

// ///// INBOUND

// ///// ///// /////

// CheckpointsResponse is any inbound record carrying a "checkpoints" field.
type CheckpointsResponse struct {
	Checkpoints []CheckpointRecord `json:"checkpoints"`
}

// WebviewDidDispose notifies that the host tore a panel down.
type WebviewDidDispose struct {
	Message string `json:"message"`
	Id      string `json:"id"`
}

// DecodeInbound maps a raw inbound record to one of the typed variants.
// Records which are malformed, or not addressed to this layer, decode to
// (nil, false) - the stream is shared and most records belong to others.
func DecodeInbound(raw json.RawMessage) (any, bool) {
	var probe struct {
		Message     string          `json:"message"`
		Checkpoints json.RawMessage `json:"checkpoints"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}

	switch {
	case probe.Checkpoints != nil:
		resp := &CheckpointsResponse{}
		if err := json.Unmarshal(raw, resp); err != nil {
			return nil, false
		}
		return resp, true

	case probe.Message == MsgWebviewDidDispose:
		msg := &WebviewDidDispose{}
		if err := json.Unmarshal(raw, msg); err != nil {
			return nil, false
		}
		return msg, true
	}

	return nil, false
}

// Encode marshals an outbound payload. The payload structs can't fail to
// marshal, but the signature keeps the boundary honest.
func Encode(payload any) (json.RawMessage, error) {
	return json.Marshal(payload)
}
