// Package protocol defines the JSON control-frame vocabulary exchanged over
// the hub's duplex connections, and the binary data-frame prefix format.
package protocol

import "time"

// FileIDWidth is the fixed width, in bytes, reserved for a file id prefix on
// every binary data frame.
const FileIDWidth = 36

// DownloadChunkSize is the size of each binary frame the hub emits while
// streaming a file back to a requester. The final chunk may be shorter.
const DownloadChunkSize = 64 * 1024

// Envelope is decoded first to dispatch on Type before unmarshalling the
// full, type-specific payload.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> hub payloads.

type CreateSessionMsg struct {
	Type       string `json:"type"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

type JoinSessionMsg struct {
	Type        string `json:"type"`
	SessionCode string `json:"sessionCode"`
	DeviceName  string `json:"deviceName"`
	DeviceType  string `json:"deviceType"`
}

type FileStartMsg struct {
	Type     string `json:"type"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

type FileCompleteMsg struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

type RequestFileMsg struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

type DeleteFileMsg struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

// Hub -> client payloads.

type FileMeta struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	Mimetype     string    `json:"mimetype"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

type SessionCreatedMsg struct {
	Type             string `json:"type"`
	SessionCode      string `json:"sessionCode"`
	DeviceID         string `json:"deviceId"`
	ConnectedDevices int    `json:"connectedDevices"`
}

type SessionJoinedMsg struct {
	Type             string `json:"type"`
	SessionCode      string `json:"sessionCode"`
	DeviceID         string `json:"deviceId"`
	ConnectedDevices int    `json:"connectedDevices"`
}

type SessionErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type DeviceJoinedMsg struct {
	Type         string `json:"type"`
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName"`
	TotalDevices int    `json:"totalDevices"`
}

type DeviceLeftMsg struct {
	Type         string `json:"type"`
	DeviceID     string `json:"deviceId"`
	TotalDevices int    `json:"totalDevices"`
}

type ExistingFilesMsg struct {
	Type  string     `json:"type"`
	Files []FileMeta `json:"files"`
}

type NewFileMsg struct {
	Type string   `json:"type"`
	File FileMeta `json:"file"`
}

type FileRemovedMsg struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

type FileStartAckMsg struct {
	Type     string `json:"type"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

type UploadProgressMsg struct {
	Type     string `json:"type"`
	FileID   string `json:"fileId"`
	Progress int    `json:"progress"`
	Received int64  `json:"received"`
	Total    int64  `json:"total"`
}

type FileCompleteAckMsg struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

type FileDownloadStartMsg struct {
	Type     string `json:"type"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type FileDownloadCompleteMsg struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

type PongMsg struct {
	Type string `json:"type"`
}

// EncodeDataFrame prepends the fixed-width, space-padded file id to a chunk
// of bytes, producing one binary wire frame.
func EncodeDataFrame(fileID string, chunk []byte) []byte {
	out := make([]byte, FileIDWidth+len(chunk))
	copy(out, fileID)
	for i := len(fileID); i < FileIDWidth; i++ {
		out[i] = ' '
	}
	copy(out[FileIDWidth:], chunk)
	return out
}

// DecodeDataFrame splits a binary wire frame into its file id and payload.
// ok is false if the frame is shorter than the fixed prefix width.
func DecodeDataFrame(frame []byte) (fileID string, chunk []byte, ok bool) {
	if len(frame) < FileIDWidth {
		return "", nil, false
	}
	raw := frame[:FileIDWidth]
	end := FileIDWidth
	for end > 0 && raw[end-1] == ' ' {
		end--
	}
	return string(raw[:end]), frame[FileIDWidth:], true
}
