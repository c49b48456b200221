//go:build !linux || !cgo

package call

import "github.com/rs/zerolog"

// Capture via pion/mediadevices needs platform drivers (V4L2 and malgo on
// Linux). On other platforms the session runs receive-only; noCapture
// implements Capture but not localCapture, so the session builder falls back
// to default codecs and recvonly transceivers.
type noCapture struct{}

func (noCapture) Close() {}

func acquireCapture(_ bool, logger zerolog.Logger) (Capture, error) {
	logger.Warn().Msg("no local capture on this platform, receive-only")
	return noCapture{}, nil
}
