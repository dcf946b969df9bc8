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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// =============================================================================
// Pending Saves
// =============================================================================

// ListSaves returns the caller's forms and their save state.
func ListSaves(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"delay_ms": d.Drafts.Delay().Milliseconds(),
			"saves":    d.Drafts.List(currentUser(c).UserID),
		})
	}
}

// GetSave returns the caller's save state for :form.
func GetSave(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := d.Drafts.Snapshot(currentUser(c).UserID, c.Param("form"))
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// UndoSave discards the caller's pending save for :form.
//
// # Outputs
//
//   - 200: {"undone": bool, "save": FormState}. undone is false when nothing
//     was pending, for example because the save was already written.
//   - 404: the caller has no save under :form.
func UndoSave(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok, err := d.Drafts.Cancel(currentUser(c).UserID, c.Param("form"))
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"undone": ok, "save": state})
	}
}

// ClearSave dismisses the failure message of :form.
func ClearSave(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok, err := d.Drafts.Clear(currentUser(c).UserID, c.Param("form"))
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": ok, "save": state})
	}
}

// DisposeSave tears down :form, called when the editor leaves the form.
// A pending save is dropped, not written.
func DisposeSave(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		form := c.Param("form")
		if _, err := drafts.ParseForm(form); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if !d.Drafts.Dispose(currentUser(c).UserID, form) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// =============================================================================
// Save Stream
// =============================================================================

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// Credentials travel in the Authorization header, not cookies, so a
	// cross-origin page cannot ride on the editor's session.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamCommand is a client message on the save stream.
type StreamCommand struct {
	Action string `json:"action"`
	Form   string `json:"form,omitempty"`
}

// StreamMessage is a server message on the save stream that is not a
// drafts.Event.
type StreamMessage struct {
	Type    string             `json:"type"`
	DelayMS int64              `json:"delay_ms,omitempty"`
	Saves   []drafts.FormState `json:"saves,omitempty"`
	Save    *drafts.FormState  `json:"save,omitempty"`
	OK      *bool              `json:"ok,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// SaveStream upgrades to a websocket that pushes the caller's save events.
//
// # Description
//
// The stream opens with a "snapshot" message listing every form, then
// forwards each drafts.Event as it happens so the editor can render the
// undo countdown and the failure banner. Clients may send StreamCommand
// messages:
//
//   - {"action":"undo","form":F}: cancel the pending save.
//   - {"action":"clear","form":F}: dismiss the failure message.
//   - {"action":"dispose","form":F}: tear the form down.
//   - {"action":"list"}: request a fresh snapshot.
//
// Results of undo, clear and dispose arrive as a "result" message; the state
// changes they cause also arrive as regular events.
func SaveStream(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			d.logger().Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		logger := d.logger().With("user_id", user.UserID)
		d.Metrics.StreamOpened()
		defer d.Metrics.StreamClosed()

		sub := d.Drafts.Hub().Subscribe(user.UserID)
		defer sub.Close()
		logger.Info("save stream opened")

		replies := make(chan StreamMessage, 8)
		readerDone := make(chan struct{})
		go readStreamCommands(ws, d, user.UserID, replies, readerDone, logger)

		send := func(v any) bool {
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			return sendJSON(ws, v, logger) == nil
		}
		if !send(snapshotMessage(d, user.UserID)) {
			return
		}

		ping := time.NewTicker(streamPingPeriod)
		defer ping.Stop()
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(streamWriteWait))
					return
				}
				if !send(ev) {
					return
				}
			case msg := <-replies:
				if !send(msg) {
					return
				}
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			case <-readerDone:
				logger.Info("save stream closed", "dropped_events", sub.Dropped())
				return
			}
		}
	}
}

// readStreamCommands owns the read side of ws until the client goes away.
func readStreamCommands(ws *websocket.Conn, d *Deps, userID int64, replies chan<- StreamMessage,
	done chan<- struct{}, logger *slog.Logger) {
	defer close(done)

	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		var cmd StreamCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("save stream read failed", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
		reply := runStreamCommand(d, userID, cmd)
		select {
		case replies <- reply:
		default:
			logger.Debug("save stream reply dropped", "action", cmd.Action)
		}
	}
}

func runStreamCommand(d *Deps, userID int64, cmd StreamCommand) StreamMessage {
	var (
		state drafts.FormState
		ok    bool
		err   error
	)
	switch cmd.Action {
	case "list":
		return snapshotMessage(d, userID)
	case "undo":
		state, ok, err = d.Drafts.Cancel(userID, cmd.Form)
	case "clear":
		state, ok, err = d.Drafts.Clear(userID, cmd.Form)
	case "dispose":
		if _, err = drafts.ParseForm(cmd.Form); err == nil {
			ok = d.Drafts.Dispose(userID, cmd.Form)
			state = drafts.FormState{Form: cmd.Form}
		}
	default:
		return StreamMessage{Type: "error", Error: "unknown action " + cmd.Action}
	}
	if err != nil {
		return StreamMessage{Type: "error", Error: err.Error()}
	}
	return StreamMessage{Type: "result", Save: &state, OK: &ok}
}

func snapshotMessage(d *Deps, userID int64) StreamMessage {
	return StreamMessage{
		Type:    "snapshot",
		DelayMS: d.Drafts.Delay().Milliseconds(),
		Saves:   d.Drafts.List(userID),
	}
}

// sendJSON is a helper to send JSON messages over WebSocket.
func sendJSON(ws *websocket.Conn, v any, logger *slog.Logger) error {
	err := ws.WriteJSON(v)
	if err != nil {
		logger.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}
