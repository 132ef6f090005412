package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Subscribe opens the change stream and calls onNotice for every notice until ctx ends
// or the connection drops. It returns nil only when ctx ends.
func (c *Client) Subscribe(ctx context.Context, onNotice func(equipment.ChangeNotice)) error {
	streamURL := *c.baseURL
	switch streamURL.Scheme {
	case "https":
		streamURL.Scheme = "wss"
	default:
		streamURL.Scheme = "ws"
	}
	streamURL.Path += streamPath

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, streamURL.String(), &websocket.DialOptions{
		HTTPClient: c.httpClientWithoutTimeout(),
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("%w: open change stream: %v", ErrTransport, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	c.logger.Info("change stream connected", zap.String("url", streamURL.String()))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read change stream: %v", ErrTransport, err)
		}
		var notice equipment.ChangeNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			c.logger.Warn("ignoring malformed change notice", zap.Error(err))
			continue
		}
		if notice.Type != equipment.ChangeNoticeType {
			continue
		}
		onNotice(notice)
	}
}

// httpClientWithoutTimeout reuses the transport but drops the request timeout, which
// would otherwise cut long-lived streams.
func (c *Client) httpClientWithoutTimeout() *http.Client {
	clone := *c.httpClient
	clone.Timeout = 0
	return &clone
}
