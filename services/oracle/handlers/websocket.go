// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is bearer-token guarded; origin checks add nothing for a
	// non-browser driver surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleJobProgress streams job status updates over a websocket.
//
// The current state is sent immediately on connect, then every state
// change until the job settles, at which point the terminal state is the
// last frame and the server closes the connection.
func (h *Handlers) HandleJobProgress() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobID")
		state, err := h.Store.Job(c.Request.Context(), jobID)
		if err != nil {
			h.abortError(c, err)
			return
		}

		// Subscribe before the snapshot send so no transition is lost in
		// between.
		updates, unsubscribe := h.Orchestrator.Subscribe(jobID)
		defer unsubscribe()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.Logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
			return
		}
		defer conn.Close()

		if !h.writeState(conn, state) || state.Status.Terminal() {
			return
		}

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				if !h.writeState(conn, next) {
					return
				}
				if next.Status.Terminal() {
					deadline := time.Now().Add(wsWriteTimeout)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
					return
				}
			}
		}
	}
}

func (h *Handlers) writeState(conn *websocket.Conn, state datatypes.JobState) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(datatypes.StatusFromState(state)); err != nil {
		h.Logger.Debug("websocket write failed", "job_id", state.JobID, "error", err)
		return false
	}
	return true
}
