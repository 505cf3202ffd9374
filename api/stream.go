package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

var (
	keepAliveInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func streamTodos(svc TodoService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		feed, err := svc.Subscribe(ctx)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to subscribe")
		}
		defer feed.Close()

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		metrics := startStreamMetrics(logger, "sse")
		end := endWriteFailed
		defer func() { metrics.log(end) }()

		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case todos, ok := <-feed.C:
				if !ok {
					end = endFeedClosed
					return nil
				}
				data, err := sonic.Marshal(todosResponse{Todos: todos})
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
				metrics.sent(len(todos))
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
				metrics.keptAlive()
			case <-ctx.Done():
				end = endClientGone
				return nil
			}
		}
	}
}

// socketTodos pushes every snapshot as a JSON text frame. Client frames are
// read only to notice the peer going away.
func socketTodos(svc TodoService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return nil
		}
		defer ws.Close()

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()
		feed, err := svc.Subscribe(ctx)
		if err != nil {
			logger.Errorf("websocket subscribe: %v", err)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
				time.Now().Add(writeTimeout))
			return nil
		}
		defer feed.Close()

		metrics := startStreamMetrics(logger, "websocket")
		end := endWriteFailed
		defer func() { metrics.log(end) }()

		go func() {
			defer cancel()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case todos, ok := <-feed.C:
				if !ok {
					end = endFeedClosed
					return nil
				}
				data, err := sonic.Marshal(todosResponse{Todos: todos})
				if err != nil {
					logger.Errorf("websocket encode: %v", err)
					return nil
				}
				ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					logger.Debugf("websocket write: %v", err)
					return nil
				}
				metrics.sent(len(todos))
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return nil
				}
				metrics.keptAlive()
			case <-ctx.Done():
				end = endClientGone
				return nil
			}
		}
	}
}
