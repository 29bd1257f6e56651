package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/embedrpc/pkg/bridge"
	"github.com/morezero/embedrpc/pkg/commsutil"
)

const commsLauncherLogPrefix = "frame:comms_launcher"

// DefaultLaunchTimeout bounds launch and remove requests.
const DefaultLaunchTimeout = 10 * time.Second

// CommsLauncher is a bridge.Embedder that asks a remote LaunchService to start frames.
type CommsLauncher struct {
	nc      *comms.Conn
	timeout time.Duration
}

// NewCommsLauncher creates a CommsLauncher. A non-positive timeout uses DefaultLaunchTimeout.
func NewCommsLauncher(nc *comms.Conn, timeout time.Duration) *CommsLauncher {
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	return &CommsLauncher{nc: nc, timeout: timeout}
}

// Embed requests a frame for req from the LaunchService.
func (l *CommsLauncher) Embed(ctx context.Context, req bridge.EmbedRequest) (bridge.Surface, error) {
	if err := l.request(ctx, commsutil.SubjectLaunch, req); err != nil {
		return nil, err
	}
	return &remoteSurface{launcher: l, contextID: req.ContextID}, nil
}

func (l *CommsLauncher) request(ctx context.Context, subject string, payload interface{}) error {
	data, err := commsutil.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("%s - failed to encode request: %w", commsLauncherLogPrefix, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	msg, err := l.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("%s - request to %s failed: %w", commsLauncherLogPrefix, subject, err)
	}

	var resp LaunchResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("%s - failed to decode response from %s: %w", commsLauncherLogPrefix, subject, err)
	}
	if !resp.Ok {
		if resp.Error != nil {
			return fmt.Errorf("%s - %s: %s", commsLauncherLogPrefix, resp.Error.Code, resp.Error.Message)
		}
		return fmt.Errorf("%s - request to %s rejected", commsLauncherLogPrefix, subject)
	}
	return nil
}

type remoteSurface struct {
	launcher  *CommsLauncher
	contextID string
}

func (s *remoteSurface) Remove() error {
	return s.launcher.request(context.Background(), commsutil.SubjectRemove, RemoveRequest{ContextID: s.contextID})
}
