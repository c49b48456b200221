//go:build linux && cgo

package call

import (
	"errors"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// linuxCapture holds tracks captured via pion/mediadevices (V4L2 + malgo)
// together with the codec selector they were encoded for.
type linuxCapture struct {
	tracks   []mediadevices.Track
	selector *mediadevices.CodecSelector
	once     sync.Once
}

func (c *linuxCapture) Close() {
	c.once.Do(func() {
		for _, t := range c.tracks {
			t.Close()
		}
	})
}

func (c *linuxCapture) populate(engine *webrtc.MediaEngine) (bool, error) {
	c.selector.Populate(engine)
	return true, nil
}

func (c *linuxCapture) attach(pc *webrtc.PeerConnection) (bool, error) {
	for _, t := range c.tracks {
		if _, err := pc.AddTrack(t); err != nil {
			return false, err
		}
	}
	return len(c.tracks) > 0, nil
}

func acquireCapture(video bool, logger zerolog.Logger) (Capture, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, &AcquireError{Reason: ReasonUnavailable, Err: err}
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, &AcquireError{Reason: ReasonUnavailable, Err: err}
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	// GetUserMedia fails as a unit if either track can't be opened. For a
	// video call try video+audio first, then each alone, so a missing or
	// busy microphone doesn't block the camera and vice versa.
	type attempt struct {
		video, audio bool
		label        string
	}
	var attempts []attempt
	if video {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	} else {
		attempts = []attempt{{false, true, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Some cameras expose an MJPEG node that emits malformed
				// frames and poisons the VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn().Err(err).Str("attempt", a.label).Msg("capture attempt failed")
			lastErr = err
			continue
		}
		tracks := stream.GetTracks()
		logger.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		return &linuxCapture{tracks: tracks, selector: selector}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no capture device")
	}
	return nil, &AcquireError{Reason: classifyCaptureErr(lastErr), Err: lastErr}
}

func classifyCaptureErr(err error) AcquireReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return ReasonPermissionDenied
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such"):
		return ReasonNotFound
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return ReasonInUse
	default:
		return ReasonUnavailable
	}
}
