package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

// localCapture is implemented by the platform capture types. populate
// registers the codecs the captured tracks are encoded with; attach adds the
// tracks to the peer connection and reports whether any were added.
type localCapture interface {
	Capture
	populate(engine *webrtc.MediaEngine) (bool, error)
	attach(pc *webrtc.PeerConnection) (bool, error)
}

// PionMedia implements Media on pion/webrtc, with local capture through
// pion/mediadevices where the platform supports it.
type PionMedia struct {
	iceServers []webrtc.ICEServer
	logger     zerolog.Logger
}

// NewPionMedia builds a media backend using the given ICE server URLs,
// falling back to a public STUN server when none are configured.
func NewPionMedia(iceURLs []string, logger zerolog.Logger) *PionMedia {
	servers := make([]webrtc.ICEServer, 0, len(iceURLs))
	for _, u := range iceURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &PionMedia{
		iceServers: servers,
		logger:     logger.With().Str("component", "media").Logger(),
	}
}

func (m *PionMedia) Acquire(video bool) (Capture, error) {
	return acquireCapture(video, m.logger)
}

func (m *PionMedia) NewSession(cap Capture, cb SessionCallbacks) (MediaSession, error) {
	lc, _ := cap.(localCapture)

	engine := &webrtc.MediaEngine{}
	populated := false
	if lc != nil {
		var err error
		populated, err = lc.populate(engine)
		if err != nil {
			return nil, fmt.Errorf("populate media engine: %w", err)
		}
	}
	if !populated {
		if err := engine.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// The default disconnectedTimeout of 5s is too short for relay paths
	// with brief outages; give ICE time to recover before failing the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	attached := false
	if lc != nil {
		attached, err = lc.attach(pc)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("attach local tracks: %w", err)
		}
	}
	if !attached {
		// Recvonly transceivers keep valid m-lines with ICE credentials in
		// the SDP even without local media.
		if err := addRecvOnlyTransceivers(pc); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	s := &pionSession{pc: pc, logger: m.logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		cb.OnCandidate(protocol.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		// Disconnected is transient; the ICE timeouts above give it time to
		// recover before Failed fires.
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.disconnected.Do(func() {
				if cb.OnDisconnected != nil {
					cb.OnDisconnected("connection lost")
				}
			})
		}
	})
	return s, nil
}

type pionSession struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu        sync.Mutex
	remoteSet bool
	held      []webrtc.ICECandidateInit

	closeOnce    sync.Once
	disconnected sync.Once
}

func (s *pionSession) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *pionSession) Answer(remote protocol.SessionDescription) (protocol.SessionDescription, error) {
	if err := s.setRemote(remote); err != nil {
		return protocol.SessionDescription{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (s *pionSession) AcceptAnswer(remote protocol.SessionDescription) error {
	return s.setRemote(remote)
}

func (s *pionSession) setRemote(remote protocol.SessionDescription) error {
	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(remote.Type), SDP: remote.SDP}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.mu.Lock()
	s.remoteSet = true
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, c := range held {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Debug().Err(err).Msg("held candidate rejected")
		}
	}
	return nil
}

func (s *pionSession) AddCandidate(cand protocol.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	s.mu.Lock()
	if !s.remoteSet {
		// Candidates cannot be applied before the remote description.
		s.held = append(s.held, init)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(init)
}

func (s *pionSession) Close() {
	s.closeOnce.Do(func() {
		if err := s.pc.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("peer connection close")
		}
	})
}

func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly transceiver: %w", err)
		}
	}
	return nil
}
