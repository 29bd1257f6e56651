package frame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/embedrpc/pkg/commsutil"
)

const serviceLogPrefix = "frame:launch_service"

// LaunchService answers launch and remove requests from CommsLauncher with a Launcher.
type LaunchService struct {
	nc       *comms.Conn
	launcher *Launcher
	subs     []*comms.Subscription
}

// NewLaunchService creates a LaunchService.
func NewLaunchService(nc *comms.Conn, launcher *Launcher) *LaunchService {
	return &LaunchService{nc: nc, launcher: launcher}
}

// Start subscribes to the launch and remove subjects.
func (s *LaunchService) Start() error {
	launchSub, err := s.nc.Subscribe(commsutil.SubjectLaunch, func(msg *comms.Msg) {
		s.respond(msg, s.handleLaunch(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", serviceLogPrefix, commsutil.SubjectLaunch, err)
	}
	removeSub, err := s.nc.Subscribe(commsutil.SubjectRemove, func(msg *comms.Msg) {
		s.respond(msg, s.handleRemove(msg.Data))
	})
	if err != nil {
		launchSub.Unsubscribe()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", serviceLogPrefix, commsutil.SubjectRemove, err)
	}
	s.subs = []*comms.Subscription{launchSub, removeSub}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s and %s", serviceLogPrefix, commsutil.SubjectLaunch, commsutil.SubjectRemove))
	return nil
}

// Stop unsubscribes and stops every frame this service launched.
func (s *LaunchService) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.launcher.StopAll()
}

func (s *LaunchService) handleLaunch(data []byte) *LaunchResponse {
	var req LaunchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse("", CodeInvalidRequest, "Failed to decode launch request")
	}
	if req.ContextID == "" {
		return errorResponse("", CodeInvalidRequest, "contextId is required")
	}
	if _, err := s.launcher.Embed(context.Background(), req); err != nil {
		return errorResponse(req.ContextID, CodeLaunchFailed, err.Error())
	}
	return &LaunchResponse{ContextID: req.ContextID, Ok: true}
}

func (s *LaunchService) handleRemove(data []byte) *LaunchResponse {
	var req RemoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse("", CodeInvalidRequest, "Failed to decode remove request")
	}
	if err := s.launcher.Remove(req.ContextID); err != nil {
		if errors.Is(err, ErrNotLaunched) {
			return errorResponse(req.ContextID, CodeNotFound, err.Error())
		}
		return errorResponse(req.ContextID, CodeRemoveFailed, err.Error())
	}
	return &LaunchResponse{ContextID: req.ContextID, Ok: true}
}

func (s *LaunchService) respond(msg *comms.Msg, resp *LaunchResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", serviceLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond: %v", serviceLogPrefix, err))
	}
}
