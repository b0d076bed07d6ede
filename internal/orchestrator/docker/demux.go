package docker

import (
	"io"

	"github.com/docker/docker/pkg/stdcopy"
)

// demuxReader yields the stdout and stderr payloads of a multiplexed Docker
// log stream in arrival order.
type demuxReader struct {
	*io.PipeReader
	src io.Closer
}

func newDemuxReader(src io.ReadCloser) *demuxReader {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, src)
		pw.CloseWithError(err)
	}()
	return &demuxReader{PipeReader: pr, src: src}
}

// Close stops the copy and releases the underlying stream.
func (d *demuxReader) Close() error {
	d.PipeReader.Close()
	return d.src.Close()
}
