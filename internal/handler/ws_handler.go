/*
Package handler provides the HTTP gateway for the chat service.

This file contains the HandleWebSocket function, which rate-limits and
upgrades a request, wraps the WebSocket connection in the frame transport,
and hands it to the chat core. From the handshake onwards a WebSocket client
is indistinguishable from a TCP client.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"beatrice/internal/app/chat"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/pkg/logx"
	"beatrice/internal/pkg/resp"
	"beatrice/internal/transport"
)

// HandleWebSocket creates an HTTP HandlerFunc that bridges WebSocket
// connections onto the chat server.
func HandleWebSocket(srv *chat.Server, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !srv.AcceptLimiter().AllowAddr(r.RemoteAddr) {
			logx.Warn("WebSocket connection rejected: accept rate exceeded.",
				"remote_ip", logx.AnonymizeIP(r.RemoteAddr))
			resp.RespondError(w, r, errs.NewError(errs.ErrConnRateLimited))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		logx.Info("WebSocket connection established.",
			"remote_ip", logx.AnonymizeIP(conn.RemoteAddr().String()))

		srv.HandleConn(transport.NewWSConn(conn))
	}
}
