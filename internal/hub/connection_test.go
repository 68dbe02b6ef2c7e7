package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rjsadow/relayhub/internal/protocol"
	"github.com/rjsadow/relayhub/internal/registry"
)

func newTestConnection(reg *registry.Registry) *Connection {
	return &Connection{
		device:   registry.NewDevice("dev-1", "", ""),
		registry: reg,
		janitor:  nil,
	}
}

func drain(t *testing.T, d *registry.Device, v any) {
	t.Helper()
	select {
	case out := <-d.Out:
		if err := json.Unmarshal(out.Data, v); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an outbound frame, got none")
	}
}

func TestHandleCreateSessionThenJoin(t *testing.T) {
	reg := registry.New(nil, nil)
	host := newTestConnection(reg)

	host.handleCreateSession(mustJSON(protocol.CreateSessionMsg{
		Type: "create_session", DeviceName: "Mac", DeviceType: "mac",
	}))

	var created protocol.SessionCreatedMsg
	drain(t, host.device, &created)
	if created.Type != "session_created" || len(created.SessionCode) != 6 {
		t.Fatalf("got %+v", created)
	}
	if host.session == nil || host.session.Code != created.SessionCode {
		t.Fatal("host connection should be bound to the new session")
	}

	guest := newTestConnection(reg)
	guest.device = registry.NewDevice("dev-2", "", "")
	guest.handleJoinSession(mustJSON(protocol.JoinSessionMsg{
		Type: "join_session", SessionCode: toLowerCase(created.SessionCode), DeviceName: "iPhone", DeviceType: "iphone",
	}))

	var joined protocol.SessionJoinedMsg
	drain(t, guest.device, &joined)
	if joined.SessionCode != created.SessionCode || joined.ConnectedDevices != 2 {
		t.Fatalf("got %+v", joined)
	}

	var deviceJoined protocol.DeviceJoinedMsg
	drain(t, host.device, &deviceJoined)
	if deviceJoined.DeviceID != guest.device.ID || deviceJoined.TotalDevices != 2 {
		t.Fatalf("got %+v", deviceJoined)
	}
}

func TestHandleJoinSessionUnknownCode(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := newTestConnection(reg)

	conn.handleJoinSession(mustJSON(protocol.JoinSessionMsg{
		Type: "join_session", SessionCode: "ZZZZZZ",
	}))

	var errMsg protocol.SessionErrorMsg
	drain(t, conn.device, &errMsg)
	if errMsg.Type != "session_error" {
		t.Fatalf("got %+v", errMsg)
	}
	if conn.session != nil {
		t.Fatal("connection should remain unregistered after a failed join")
	}
}

func TestHandleSecondCreateSessionRejected(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := newTestConnection(reg)

	conn.handleCreateSession(mustJSON(protocol.CreateSessionMsg{Type: "create_session"}))
	drain(t, conn.device, &protocol.SessionCreatedMsg{})
	firstSession := conn.session

	conn.handleCreateSession(mustJSON(protocol.CreateSessionMsg{Type: "create_session"}))
	var errMsg protocol.SessionErrorMsg
	drain(t, conn.device, &errMsg)
	if errMsg.Type != "session_error" {
		t.Fatalf("got %+v", errMsg)
	}
	if conn.session != firstSession {
		t.Fatal("connection should remain in its original session")
	}
}

func TestFullUploadDownloadCycle(t *testing.T) {
	reg := registry.New(nil, nil)
	uploader := newTestConnection(reg)
	uploader.handleCreateSession(mustJSON(protocol.CreateSessionMsg{Type: "create_session"}))
	var created protocol.SessionCreatedMsg
	drain(t, uploader.device, &created)

	downloader := newTestConnection(reg)
	downloader.device = registry.NewDevice("dev-2", "", "")
	downloader.handleJoinSession(mustJSON(protocol.JoinSessionMsg{Type: "join_session", SessionCode: created.SessionCode}))
	drain(t, downloader.device, &protocol.SessionJoinedMsg{})
	drain(t, uploader.device, &protocol.DeviceJoinedMsg{}) // uploader sees the join

	uploader.handleFileStart(mustJSON(protocol.FileStartMsg{Type: "file_start", FileName: "hi.txt", FileSize: 5, MimeType: "text/plain"}))
	var ack protocol.FileStartAckMsg
	drain(t, uploader.device, &ack)

	uploader.handleDataFrame(protocol.EncodeDataFrame(ack.FileID, []byte("hello")))
	var progress protocol.UploadProgressMsg
	drain(t, uploader.device, &progress)
	if progress.Progress != 100 {
		t.Fatalf("progress = %d, want 100", progress.Progress)
	}

	uploader.handleFileComplete(mustJSON(protocol.FileCompleteMsg{Type: "file_complete", FileID: ack.FileID}))
	var completeAck protocol.FileCompleteAckMsg
	drain(t, uploader.device, &completeAck)

	var newFile protocol.NewFileMsg
	drain(t, downloader.device, &newFile)
	if newFile.File.ID != ack.FileID || newFile.File.Size != 5 {
		t.Fatalf("got %+v", newFile)
	}

	downloader.handleRequestFile(mustJSON(protocol.RequestFileMsg{Type: "request_file", FileID: ack.FileID}))

	var start protocol.FileDownloadStartMsg
	drain(t, downloader.device, &start)
	if start.Size != 5 {
		t.Fatalf("got %+v", start)
	}

	var dataFrame registry.OutboundMessage
	select {
	case dataFrame = <-downloader.device.Out:
	case <-time.After(time.Second):
		t.Fatal("expected a binary data frame")
	}
	gotID, chunk, ok := protocol.DecodeDataFrame(dataFrame.Data)
	if !ok || gotID != ack.FileID || string(chunk) != "hello" {
		t.Fatalf("data frame = %q %q %v", gotID, chunk, ok)
	}

	var complete protocol.FileDownloadCompleteMsg
	drain(t, downloader.device, &complete)
	if complete.FileID != ack.FileID {
		t.Fatalf("got %+v", complete)
	}
}

func TestHandleDeleteFileBroadcastsToAllMembers(t *testing.T) {
	reg := registry.New(nil, nil)
	a := newTestConnection(reg)
	a.handleCreateSession(mustJSON(protocol.CreateSessionMsg{Type: "create_session"}))
	var created protocol.SessionCreatedMsg
	drain(t, a.device, &created)

	b := newTestConnection(reg)
	b.device = registry.NewDevice("dev-2", "", "")
	b.handleJoinSession(mustJSON(protocol.JoinSessionMsg{Type: "join_session", SessionCode: created.SessionCode}))
	drain(t, b.device, &protocol.SessionJoinedMsg{})
	drain(t, a.device, &protocol.DeviceJoinedMsg{})

	a.handleFileStart(mustJSON(protocol.FileStartMsg{Type: "file_start", FileName: "x", FileSize: 0}))
	var ack protocol.FileStartAckMsg
	drain(t, a.device, &ack)
	a.handleFileComplete(mustJSON(protocol.FileCompleteMsg{Type: "file_complete", FileID: ack.FileID}))
	drain(t, a.device, &protocol.FileCompleteAckMsg{})
	drain(t, b.device, &protocol.NewFileMsg{})

	a.handleDeleteFile(mustJSON(protocol.DeleteFileMsg{Type: "delete_file", FileID: ack.FileID}))

	var removedA, removedB protocol.FileRemovedMsg
	drain(t, a.device, &removedA)
	drain(t, b.device, &removedB)
	if removedA.FileID != ack.FileID || removedB.FileID != ack.FileID {
		t.Fatalf("expected both members notified of removal")
	}
}

func TestHandleDataFrameRoundsProgressToNearest(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := newTestConnection(reg)
	conn.handleCreateSession(mustJSON(protocol.CreateSessionMsg{Type: "create_session"}))
	drain(t, conn.device, &protocol.SessionCreatedMsg{})

	// 3 of 7 bytes is 42.857...%, which must round to 43, not truncate to 42.
	conn.handleFileStart(mustJSON(protocol.FileStartMsg{Type: "file_start", FileName: "f", FileSize: 7}))
	var ack protocol.FileStartAckMsg
	drain(t, conn.device, &ack)

	conn.handleDataFrame(protocol.EncodeDataFrame(ack.FileID, []byte("abc")))
	var progress protocol.UploadProgressMsg
	drain(t, conn.device, &progress)
	if progress.Progress != 43 {
		t.Fatalf("Progress = %d, want 43 (round(3/7*100))", progress.Progress)
	}
}

func TestHandleRequestFileSequenceIsNotInterleavedByConcurrentBroadcast(t *testing.T) {
	reg := registry.New(nil, nil)
	uploader := newTestConnection(reg)
	uploader.handleCreateSession(mustJSON(protocol.CreateSessionMsg{Type: "create_session"}))
	var created protocol.SessionCreatedMsg
	drain(t, uploader.device, &created)

	downloader := newTestConnection(reg)
	downloader.device = registry.NewDevice("dev-2", "", "")
	downloader.handleJoinSession(mustJSON(protocol.JoinSessionMsg{Type: "join_session", SessionCode: created.SessionCode}))
	drain(t, downloader.device, &protocol.SessionJoinedMsg{})
	drain(t, uploader.device, &protocol.DeviceJoinedMsg{})

	body := make([]byte, protocol.DownloadChunkSize*3)
	uploader.handleFileStart(mustJSON(protocol.FileStartMsg{Type: "file_start", FileName: "big.bin", FileSize: int64(len(body))}))
	var ack protocol.FileStartAckMsg
	drain(t, uploader.device, &ack)
	uploader.handleDataFrame(protocol.EncodeDataFrame(ack.FileID, body))
	drain(t, uploader.device, &protocol.UploadProgressMsg{})
	uploader.handleFileComplete(mustJSON(protocol.FileCompleteMsg{Type: "file_complete", FileID: ack.FileID}))
	drain(t, uploader.device, &protocol.FileCompleteAckMsg{})
	drain(t, downloader.device, &protocol.NewFileMsg{})

	// Hold the downloader's send lock to simulate a broadcast from another
	// connection's goroutine racing the download. While held, handleRequestFile's
	// enqueue sequence must block rather than interleave around it.
	release := make(chan struct{})
	started := make(chan struct{})
	go downloader.device.WithExclusiveSend(func(_ registry.ExclusiveSender) {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go func() {
		downloader.handleRequestFile(mustJSON(protocol.RequestFileMsg{Type: "request_file", FileID: ack.FileID}))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("handleRequestFile proceeded while another goroutine held the device's exclusive send lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleRequestFile did not complete after the lock was released")
	}

	var start protocol.FileDownloadStartMsg
	drain(t, downloader.device, &start)
	if start.Size != int64(len(body)) {
		t.Fatalf("got %+v", start)
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func toLowerCase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
