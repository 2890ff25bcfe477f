package schemas

import (
	"context"
	"errors"
)

// -- Transport Schemas --

// ProbeAction names a request understood by the DOM probe on the page side.
type ProbeAction string

const (
	ProbeEnsureRef         ProbeAction = "ensureRefForSelector"
	ProbeResolveRef        ProbeAction = "resolveRef"
	ProbeVerifyFingerprint ProbeAction = "verifyFingerprint"
	ProbeClick             ProbeAction = "click"
	ProbeFill              ProbeAction = "fill"
)

// ProbeRequest is one opaque request/response exchange with the page.
// Exactly one of Selector or Text is meaningful for ensureRefForSelector.
type ProbeRequest struct {
	Action ProbeAction `json:"action"`

	Selector        string    `json:"selector,omitempty"`
	IsXPath         bool      `json:"isXPath,omitempty"`
	Text            string    `json:"text,omitempty"`
	TextMatch       TextMatch `json:"textMatch,omitempty"`
	TagName         string    `json:"tagName,omitempty"`
	ShadowHostChain []string  `json:"shadowHostChain,omitempty"`
	AllowMultiple   bool      `json:"allowMultiple,omitempty"`

	Ref         string `json:"ref,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Value       string `json:"value,omitempty"`
}

// ProbeResponse is the page side's answer. On failure Error may explain why and
// Cancelled reports that the page went away mid-request.
type ProbeResponse struct {
	Success   bool   `json:"success"`
	Ref       string `json:"ref,omitempty"`
	Center    *Point `json:"center,omitempty"`
	Href      string `json:"href,omitempty"`
	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// FrameInfo describes one frame of a tab. Frame 0 is the top frame.
type FrameInfo struct {
	FrameID       int    `json:"frameId"`
	ParentFrameID int    `json:"parentFrameId"`
	URL           string `json:"url"`
}

// SendOptions scopes a message to a frame. A nil FrameID targets the top frame.
type SendOptions struct {
	FrameID *int
}

// Transport is the boundary between the replay core and whatever actually holds
// the DOM. The core never touches a browser directly.
type Transport interface {
	SendMessage(ctx context.Context, tabID int, msg ProbeRequest, opts SendOptions) (*ProbeResponse, error)
	GetAllFrames(ctx context.Context, tabID int) ([]FrameInfo, error)
}

// FrameRef returns a pointer suitable for SendOptions.FrameID.
func FrameRef(id int) *int {
	return &id
}

// Sentinel transport failures. Implementations wrap these so callers can map
// them onto TAB_NOT_FOUND and FRAME_NOT_FOUND.
var (
	ErrTabNotFound   = errors.New("tab not found")
	ErrFrameNotFound = errors.New("frame not found")
)
