package ws

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// TokenVerifier checks a session-resume token and returns the user id it
// was issued for.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// ServeWS upgrades HTTP requests to WebSocket. Devices and federated
// servers share the listener; servers announce themselves with
// ?role=server. A device presenting a valid ?token= resume token is bound
// to its user immediately, skipping the challenge round trip (WebSocket
// clients cannot send headers, hence the query param).
func ServeWS(hub *Hub, router Router, responses ResponseSink, resume TokenVerifier, onServer func(c *Client), log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := RoleDevice
		if r.URL.Query().Get("role") == string(RoleServer) {
			role = RoleServer
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // federation peers come from any origin
		})
		if err != nil {
			log.Debug("accept error", zap.Error(err))
			return
		}

		client := newClient(hub, conn, r.RemoteAddr, role, log)
		hub.register(client)

		if role == RoleDevice && resume != nil {
			if token := r.URL.Query().Get("token"); token != "" {
				if userID, err := resume.Verify(token); err == nil {
					client.BindUser(userID)
				} else {
					log.Debug("resume token rejected", zap.Error(err))
				}
			}
		}
		if role == RoleServer && onServer != nil {
			onServer(client)
		}

		go client.WritePump()
		go client.ReadPump(router, responses)
	}
}

// Dial opens an outbound connection and starts its pumps. Servers dialing
// each other announce their role; a device dials plain.
func Dial(ctx context.Context, addr string, role Role, router Router, responses ResponseSink, log *zap.Logger) (*Client, error) {
	url := addr
	if role == RoleServer {
		url += "?role=server"
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	client := newClient(nil, conn, addr, role, log)
	go client.WritePump()
	go client.ReadPump(router, responses)
	return client, nil
}
