package registry

import (
	"errors"
	"time"
)

// ErrSizeExceeded is returned when an appended chunk would push a file past
// its declared size.
var ErrSizeExceeded = errors.New("chunk would exceed declared file size")

// ErrSizeMismatch is returned by Complete when the bytes actually received
// don't match the size the uploader declared up front.
var ErrSizeMismatch = errors.New("received size does not match declared size")

// File is a named blob buffered entirely in memory. While open, its bytes
// live in a list of chunks so appends never need to reallocate the whole
// buffer; Complete concatenates them once and discards the chunk list.
type File struct {
	ID            string
	OriginalName  string
	Size          int64
	Mimetype      string
	UploaderID    string
	UploadedAt    time.Time

	open         bool
	chunks       [][]byte
	receivedSize int64
	data         []byte
}

func newFile(id, uploaderID, name string, size int64, mime string) *File {
	return &File{
		ID:           id,
		OriginalName: name,
		Size:         size,
		Mimetype:     mime,
		UploaderID:   uploaderID,
		UploadedAt:   time.Now(),
		open:         true,
	}
}

// Open reports whether the file is still receiving chunks.
func (f *File) Open() bool { return f.open }

// ReceivedSize returns the number of bytes appended so far.
func (f *File) ReceivedSize() int64 { return f.receivedSize }

// append extends an open file with a chunk, rejecting anything that would
// overflow the declared size. Returns the new cumulative received size.
func (f *File) append(chunk []byte) (int64, error) {
	if !f.open {
		return f.receivedSize, errors.New("file is not open for writing")
	}
	if f.receivedSize+int64(len(chunk)) > f.Size {
		return f.receivedSize, ErrSizeExceeded
	}
	f.chunks = append(f.chunks, chunk)
	f.receivedSize += int64(len(chunk))
	return f.receivedSize, nil
}

// complete concatenates the buffered chunks into the final byte slice,
// validating that the received size matches what was declared.
func (f *File) complete() error {
	if !f.open {
		return nil
	}
	if f.receivedSize != f.Size {
		return ErrSizeMismatch
	}
	data := make([]byte, 0, f.Size)
	for _, c := range f.chunks {
		data = append(data, c...)
	}
	f.data = data
	f.chunks = nil
	f.open = false
	return nil
}

// Bytes returns the file's content. It is only valid once the file is
// complete; callers must not mutate the returned slice.
func (f *File) Bytes() []byte {
	return f.data
}
