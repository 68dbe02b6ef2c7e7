// Package hub implements the per-connection protocol state machine and
// transfer handling: the part of the relay hub that turns inbound frames
// into registry and file-store mutations, and mutations into outbound
// frames.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjsadow/relayhub/internal/broadcast"
	"github.com/rjsadow/relayhub/internal/idgen"
	"github.com/rjsadow/relayhub/internal/janitor"
	"github.com/rjsadow/relayhub/internal/protocol"
	"github.com/rjsadow/relayhub/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxFrameBytes = 100 * 1024 * 1024
)

// Connection binds one WebSocket to one registry Device and drives the
// protocol state machine for its lifetime.
type Connection struct {
	ws       *websocket.Conn
	device   *registry.Device
	registry *registry.Registry
	janitor  *janitor.Janitor
	maxBytes int64
	log      *slog.Logger

	session *registry.Session
}

// New wraps an upgraded WebSocket connection in a fresh, unregistered device.
func New(ws *websocket.Conn, reg *registry.Registry, jan *janitor.Janitor, maxSessionBytes int64, log *slog.Logger) *Connection {
	if log == nil {
		log = slog.Default()
	}
	device := registry.NewDevice(idgen.NewDeviceID(), "", "")
	return &Connection{
		ws:       ws,
		device:   device,
		registry: reg,
		janitor:  jan,
		maxBytes: maxSessionBytes,
		log:      log.With("device", device.ID),
	}
}

// Serve runs the connection's read and write pumps until the socket closes.
// It blocks until the connection is done.
func (c *Connection) Serve() {
	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()

	c.readPump()

	close(c.device.Out)
	<-done

	if sess := c.registry.Leave(c.device.ID); sess != nil {
		remaining := sess.DeviceCount()
		broadcast.ToSession(sess, protocol.DeviceLeftMsg{
			Type:         "device_left",
			DeviceID:     c.device.ID,
			TotalDevices: remaining,
		}, "")
		if remaining == 0 {
			c.janitor.OnSessionEmptied(sess.Code)
		}
	}
}

func (c *Connection) readPump() {
	c.ws.SetReadLimit(maxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				c.log.Debug("read error", "error", err)
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			c.handleControlFrame(data)
		case websocket.BinaryMessage:
			c.handleDataFrame(data)
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.device.Out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(msg.Kind, msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func (c *Connection) handleControlFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("malformed control frame", "error", err)
		return
	}

	switch env.Type {
	case "create_session":
		c.handleCreateSession(data)
	case "join_session":
		c.handleJoinSession(data)
	case "file_start":
		c.handleFileStart(data)
	case "file_complete":
		c.handleFileComplete(data)
	case "request_file":
		c.handleRequestFile(data)
	case "delete_file":
		c.handleDeleteFile(data)
	case "ping":
		c.device.SendJSON(mustMarshal(protocol.PongMsg{Type: "pong"}))
	default:
		c.log.Debug("unknown control frame type", "type", env.Type)
	}
}

func (c *Connection) handleCreateSession(data []byte) {
	if c.session != nil {
		c.replyError("already in a session")
		return
	}
	var msg protocol.CreateSessionMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	c.device.Name = msg.DeviceName
	c.device.Type = msg.DeviceType

	sess, err := c.registry.Create(c.device)
	if err != nil {
		c.replyError(fmt.Sprintf("could not create session: %v", err))
		return
	}
	c.session = sess

	c.device.SendJSON(mustMarshal(protocol.SessionCreatedMsg{
		Type:             "session_created",
		SessionCode:      sess.Code,
		DeviceID:         c.device.ID,
		ConnectedDevices: sess.DeviceCount(),
	}))
}

func (c *Connection) handleJoinSession(data []byte) {
	if c.session != nil {
		c.replyError("already in a session")
		return
	}
	var msg protocol.JoinSessionMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	c.device.Name = msg.DeviceName
	c.device.Type = msg.DeviceType

	sess, err := c.registry.Join(msg.SessionCode, c.device)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			c.replyError("Session not found")
			return
		}
		c.replyError(fmt.Sprintf("could not join session: %v", err))
		return
	}
	c.session = sess

	c.device.SendJSON(mustMarshal(protocol.SessionJoinedMsg{
		Type:             "session_joined",
		SessionCode:      sess.Code,
		DeviceID:         c.device.ID,
		ConnectedDevices: sess.DeviceCount(),
	}))

	if files := sess.Files(); len(files) > 0 {
		metas := make([]protocol.FileMeta, 0, len(files))
		for _, f := range files {
			if f.Open() {
				continue
			}
			metas = append(metas, fileMeta(f))
		}
		if len(metas) > 0 {
			c.device.SendJSON(mustMarshal(protocol.ExistingFilesMsg{Type: "existing_files", Files: metas}))
		}
	}

	broadcast.ToSession(sess, protocol.DeviceJoinedMsg{
		Type:         "device_joined",
		DeviceID:     c.device.ID,
		DeviceName:   c.device.Name,
		TotalDevices: sess.DeviceCount(),
	}, c.device.ID)
}

func (c *Connection) handleFileStart(data []byte) {
	if c.session == nil {
		return
	}
	var msg protocol.FileStartMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	if c.maxBytes > 0 && c.session.TotalDeclaredBytes()+msg.FileSize > c.maxBytes {
		c.replyError("session storage limit reached")
		return
	}

	id := idgen.NewFileID()
	c.session.BeginFile(id, c.device.ID, msg.FileName, msg.FileSize, msg.MimeType)

	c.device.SendJSON(mustMarshal(protocol.FileStartAckMsg{
		Type:     "file_start_ack",
		FileID:   id,
		FileName: msg.FileName,
	}))
}

func (c *Connection) handleDataFrame(frame []byte) {
	if c.session == nil {
		return
	}
	fileID, chunk, ok := protocol.DecodeDataFrame(frame)
	if !ok {
		return
	}

	received, err := c.session.AppendFile(fileID, chunk)
	if err != nil {
		c.log.Debug("chunk rejected", "file", fileID, "error", err)
		return
	}

	f, err := c.session.GetFile(fileID)
	if err != nil {
		return
	}

	progress := 0
	if f.Size > 0 {
		progress = int((received*100 + f.Size/2) / f.Size)
	}
	c.device.SendJSON(mustMarshal(protocol.UploadProgressMsg{
		Type:     "upload_progress",
		FileID:   fileID,
		Progress: progress,
		Received: received,
		Total:    f.Size,
	}))
}

func (c *Connection) handleFileComplete(data []byte) {
	if c.session == nil {
		return
	}
	var msg protocol.FileCompleteMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	f, err := c.session.CompleteFile(msg.FileID)
	if err != nil {
		c.log.Debug("file did not complete", "file", msg.FileID, "error", err)
		return
	}

	c.device.SendJSON(mustMarshal(protocol.FileCompleteAckMsg{Type: "file_complete_ack", FileID: f.ID}))
	broadcast.ToSession(c.session, protocol.NewFileMsg{Type: "new_file", File: fileMeta(f)}, c.device.ID)
}

func (c *Connection) handleRequestFile(data []byte) {
	if c.session == nil {
		return
	}
	var msg protocol.RequestFileMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	f, err := c.session.GetFile(msg.FileID)
	if err != nil || f.Open() {
		return
	}

	body := f.Bytes()
	c.device.WithExclusiveSend(func(send registry.ExclusiveSender) {
		send.JSON(mustMarshal(protocol.FileDownloadStartMsg{
			Type:     "file_download_start",
			FileID:   f.ID,
			FileName: f.OriginalName,
			Size:     f.Size,
			MimeType: f.Mimetype,
		}))

		for offset := 0; offset < len(body); offset += protocol.DownloadChunkSize {
			end := offset + protocol.DownloadChunkSize
			if end > len(body) {
				end = len(body)
			}
			send.Binary(protocol.EncodeDataFrame(f.ID, body[offset:end]))
		}

		send.JSON(mustMarshal(protocol.FileDownloadCompleteMsg{Type: "file_download_complete", FileID: f.ID}))
	})
}

func (c *Connection) handleDeleteFile(data []byte) {
	if c.session == nil {
		return
	}
	var msg protocol.DeleteFileMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	c.session.RemoveFile(msg.FileID)
	broadcast.ToSession(c.session, protocol.FileRemovedMsg{Type: "file_removed", FileID: msg.FileID}, "")
}

func (c *Connection) replyError(message string) {
	c.device.SendJSON(mustMarshal(protocol.SessionErrorMsg{Type: "session_error", Error: message}))
}

func fileMeta(f *registry.File) protocol.FileMeta {
	return protocol.FileMeta{
		ID:           f.ID,
		OriginalName: f.OriginalName,
		Size:         f.Size,
		Mimetype:     f.Mimetype,
		UploadedAt:   f.UploadedAt,
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("hub: failed to marshal a frame we constructed ourselves: %v", err))
	}
	return data
}
