package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and writes every push event of the board as
// one JSON text message.
func (s *Server) streamEvents(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	userID, err := s.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		metricsFrom(c).SetErrorStage("auth")
		return c.String(http.StatusUnauthorized, err.Error())
	}
	board := boardID(c)
	metricsFrom(c).SetBoard(board)

	// subscribed before the upgrade so no event is missed once the client is connected
	ch := s.broker.subscribe(board)
	defer s.broker.unsubscribe(board, ch)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		metricsFrom(c).SetErrorStage("upgrade")
		return nil
	}
	defer conn.Close()
	logger := s.logger.WithFields(log.Fields{"board": board, "user": userID})
	logger.Debug("stream connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-ch:
			data, err := sonic.Marshal(ev)
			if err != nil {
				logger.WithError(err).Error("encode push event")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case <-closed:
			logger.Debug("stream closed by client")
			return nil
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return nil
		}
	}
}
