package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net"
	"net/url"
	"os"
	"time"

	"analyticsengine/internal/model"
	"analyticsengine/internal/service/source"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

const (
	defaultUDPFrameTimeout = 2 * time.Second
	maxUDPFrameSize        = 4 << 20
)

// UDPCapture receives JPEG frames pushed over UDP, as sent by small
// embedded cameras: a frame starts with a packet beginning with the JPEG
// header and ends with a packet ending with the JPEG footer.
//
// URI form: udp://:5000?from=10.0.0.12&timeout=2s
type UDPCapture struct {
	cameraID     string
	conn         *net.UDPConn
	from         string
	frameTimeout time.Duration
	packet       []byte
	frame        bytes.Buffer
}

// OpenUDPCapture binds the UDP port named by uri.
func OpenUDPCapture(ctx context.Context, cameraID, uri string) (source.Capture, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid uri %q: %v", source.ErrSourceUnavailable, uri, err)
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve UDP address %s: %v", source.ErrSourceUnavailable, u.Host, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", source.ErrSourceUnavailable, u.Host, err)
	}

	timeout := defaultUDPFrameTimeout
	if raw := u.Query().Get("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}

	return &UDPCapture{
		cameraID:     cameraID,
		conn:         conn,
		from:         u.Query().Get("from"),
		frameTimeout: timeout,
		packet:       make([]byte, 65536),
	}, nil
}

// Addr is the bound local address.
func (c *UDPCapture) Addr() net.Addr {
	return c.conn.LocalAddr()
}

// Read assembles packets until one full JPEG is buffered. No complete frame
// within the frame timeout counts as a dropped frame.
func (c *UDPCapture) Read(ctx context.Context) (model.Frame, error) {
	deadline := time.Now().Add(c.frameTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return model.Frame{}, fmt.Errorf("%w: %v", source.ErrSourceClosed, err)
	}

	for {
		n, remote, err := c.conn.ReadFromUDP(c.packet)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return model.Frame{}, fmt.Errorf("%w: no complete frame within %v", source.ErrFrameDropped, c.frameTimeout)
			}
			if errors.Is(err, net.ErrClosed) {
				return model.Frame{}, source.ErrSourceClosed
			}
			return model.Frame{}, fmt.Errorf("%w: %v", source.ErrFrameDropped, err)
		}

		if c.from != "" && remote.IP.String() != c.from {
			continue
		}

		data := c.packet[:n]
		if bytes.HasPrefix(data, jpegHeader) {
			c.frame.Reset()
		}
		c.frame.Write(data)

		if c.frame.Len() > maxUDPFrameSize {
			c.frame.Reset()
			continue
		}

		if bytes.HasSuffix(data, jpegFooter) && bytes.HasPrefix(c.frame.Bytes(), jpegHeader) {
			fullFrame := make([]byte, c.frame.Len())
			copy(fullFrame, c.frame.Bytes())
			c.frame.Reset()

			frame := model.Frame{
				CameraID: c.cameraID,
				Captured: time.Now(),
				Data:     fullFrame,
			}
			if cfg, err := jpeg.DecodeConfig(bytes.NewReader(fullFrame)); err == nil {
				frame.Width, frame.Height = cfg.Width, cfg.Height
			}
			return frame, nil
		}
	}
}

func (c *UDPCapture) Close() error {
	return c.conn.Close()
}
