package camera

import (
	"context"
	"strings"

	"analyticsengine/internal/service/source"
)

// Open picks a capture by uri scheme: udp:// streams go to the UDP
// receiver, everything else to OpenCV.
func Open(ctx context.Context, cameraID, uri string) (source.Capture, error) {
	if strings.HasPrefix(uri, "udp://") {
		return OpenUDPCapture(ctx, cameraID, uri)
	}
	return OpenVideoCapture(ctx, cameraID, uri)
}

var _ source.Opener = Open
