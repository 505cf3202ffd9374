package web

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"todo-app/ui"
)

const (
	SessionCookie = "todo_session"
	sessionKey    = "session"
)

var keepAliveInterval = 30 * time.Second

// Register wires the browser page and its form actions on e. Only the page
// itself opens a session; actions and streams without one are turned away.
func Register(e *echo.Echo, sessions *Sessions) {
	e.Renderer = NewRenderer()

	e.GET("/", page, withSession(sessions, openSession(sessions, page)))

	action := withSession(sessions, home)
	e.POST("/submit", submit, action)
	e.POST("/cancel", cancelEdit, action)
	e.POST("/todos/:id/edit", edit, action)
	e.POST("/todos/:id/delete", remove(sessions), action)

	e.GET("/events", events(sessions), withSession(sessions, noStream))
}

// withSession resolves the browser session from its cookie. Requests without
// a live session are handled by missing instead.
func withSession(sessions *Sessions, missing echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ck, err := c.Cookie(SessionCookie); err == nil {
				if sess, ok := sessions.Get(ck.Value); ok {
					c.Set(sessionKey, sess)
					return next(c)
				}
			}
			return missing(c)
		}
	}
}

// openSession starts a session, sets its cookie and continues with next.
func openSession(sessions *Sessions, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := sessions.Open()
		if err != nil {
			c.Logger().Errorf("open session: %v", err)
			return c.String(http.StatusServiceUnavailable, "todo list unavailable, try again later")
		}
		c.SetCookie(&http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		c.Set(sessionKey, sess)
		return next(c)
	}
}

// noStream answers an event stream request without a session. 204 tells an
// EventSource to stop reconnecting.
func noStream(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func current(c echo.Context) *Session {
	return c.Get(sessionKey).(*Session)
}

func home(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, "/")
}

func page(c echo.Context) error {
	sess := current(c)
	return c.Render(http.StatusOK, "page", pageView{State: sess.Ctrl.State(), Flash: sess.takeFlash()})
}

func submit(c echo.Context) error {
	sess := current(c)
	sess.Ctrl.SetTitle(strings.TrimSpace(c.FormValue("title")))
	sess.Ctrl.SetDetails(c.FormValue("details"))
	sess.Ctrl.SetDueDate(strings.TrimSpace(c.FormValue("dueDate")))
	if outcome := sess.Ctrl.Submit(c.Request().Context()); outcome != ui.OutcomeFailed {
		sess.setFlash(outcome.Message())
	}
	return home(c)
}

func cancelEdit(c echo.Context) error {
	current(c).Ctrl.CancelEdit()
	return home(c)
}

func edit(c echo.Context) error {
	current(c).Ctrl.Edit(c.Param("id"))
	return home(c)
}

func remove(sessions *Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !current(c).Ctrl.Delete(c.Request().Context(), c.Param("id")) {
			sessions.logger.WithField("todo_id", c.Param("id")).Debug("delete from page failed")
		}
		return home(c)
	}
}

// events streams the re-rendered todo list as a "list" event after every
// change of the session's controller.
func events(sessions *Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess := current(c)
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ch := sess.subscribe()
		defer sess.unsubscribe(ch, sessions.now())

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		var buf bytes.Buffer
		for {
			buf.Reset()
			if err := c.Echo().Renderer.Render(&buf, "list", sess.Ctrl.State().Todos, c); err != nil {
				c.Logger().Error(err)
				return nil
			}
			if _, err := c.Response().Write(sseEvent("list", buf.String())); err != nil {
				return nil
			}
			flusher.Flush()

			for changed := false; !changed; {
				select {
				case <-ch:
					changed = true
				case <-ticker.C:
					if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
						return nil
					}
					flusher.Flush()
				case <-sess.stop:
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func sseEvent(name, data string) []byte {
	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.TrimRight(data, "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}
