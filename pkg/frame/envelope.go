package frame

import "github.com/morezero/embedrpc/pkg/bridge"

// Error codes returned by LaunchService.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeLaunchFailed   = "LAUNCH_FAILED"
	CodeNotFound       = "NOT_FOUND"
	CodeRemoveFailed   = "REMOVE_FAILED"
)

// LaunchRequest asks a serve process to start a frame.
type LaunchRequest = bridge.EmbedRequest

// RemoveRequest asks a serve process to stop a frame.
type RemoveRequest struct {
	ContextID string `json:"contextId"`
}

// LaunchResponse is the reply to launch and remove requests.
type LaunchResponse struct {
	ContextID string       `json:"contextId"`
	Ok        bool         `json:"ok"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResponse(contextID, code, message string) *LaunchResponse {
	return &LaunchResponse{
		ContextID: contextID,
		Ok:        false,
		Error:     &ErrorDetail{Code: code, Message: message},
	}
}
