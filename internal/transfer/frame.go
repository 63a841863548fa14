package transfer

import (
	"io"

	"github.com/sharenet/sharenet/internal/wire"
)

// frameReader reads a sequence of self-synchronizing DOWNLOAD_DATA frames
// off a connection: the first frame's size is computed locally from the
// file name (see wire.StartPacketSize), and every subsequent frame's size
// comes from the previous frame's next_packet_size trailer.
type frameReader struct {
	r        io.Reader
	nextSize int
}

func newFrameReader(r io.Reader, fileName string) *frameReader {
	return &frameReader{r: r, nextSize: wire.StartPacketSize(fileName)}
}

func (f *frameReader) next() (wire.DownloadData, error) {
	buf := make([]byte, f.nextSize)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return wire.DownloadData{}, err
	}
	msg, err := wire.Decode(buf)
	if err != nil {
		return wire.DownloadData{}, err
	}
	dd, ok := msg.(wire.DownloadData)
	if !ok {
		return wire.DownloadData{}, wire.ErrMalformed
	}
	f.nextSize = dd.NextPacketSize
	return dd, nil
}
