package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/jensenmasan/NodeCrypt/internal/call"
	"github.com/jensenmasan/NodeCrypt/internal/channel"
	"github.com/jensenmasan/NodeCrypt/internal/config"
	"github.com/jensenmasan/NodeCrypt/internal/protocol"
	"github.com/jensenmasan/NodeCrypt/internal/room"
	"github.com/jensenmasan/NodeCrypt/internal/ui"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	fs := pflag.NewFlagSet("nodecrypt", pflag.ContinueOnError)
	var (
		configPath = fs.StringP("config", "c", "nodecrypt.json", "config file path")
		relayURL   = fs.StringP("relay", "r", "", "relay websocket url (overrides config)")
		userName   = fs.StringP("name", "n", "", "user name (overrides config)")
		roomName   = fs.String("room", "", "room to join on startup")
		password   = fs.String("password", "", "password for the startup room")
		logLevel   = fs.StringP("log-level", "l", "", "log level (overrides config)")
		version    = fs.BoolP("version", "v", false, "print version and exit")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *version {
		fmt.Printf("nodecrypt v%s\n", appVersion)
		return
	}

	cfg, created, err := config.Ensure(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}
	if *userName != "" {
		cfg.Profile.UserName = *userName
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, logClose, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
	defer logClose()
	if created {
		logger.Info().Str("path", *configPath).Msg("wrote default config")
	}

	name := cfg.Profile.UserName
	if name == "" {
		name = "anon-" + uuid.NewString()[:8]
	}

	terminal, err := ui.New(name, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ui: %v\n", err)
		os.Exit(1)
	}
	defer terminal.Close()

	store := room.NewStore(room.Config{
		Channels: func(cb channel.Callbacks) (channel.Provider, error) {
			return channel.NewPlainProvider(cfg.Relay.URL, cb, logger), nil
		},
		UI:          terminal,
		HistorySize: cfg.Chat.HistorySize,
		Logger:      logger,
	})

	var media call.Media = call.NewPionMedia(cfg.Call.ICEServers, logger)
	if cfg.Call.VideoDisabled {
		media = audioOnlyMedia{media}
	}

	bridge := &callBridge{store: store}
	coord := call.NewCoordinator(media, bridge, terminal.CallEvents(), logger)
	bridge.coord = coord
	store.SetCalls(bridge)
	terminal.Bind(store, coord)

	if *roomName != "" {
		if _, err := store.CreateRoom(name, *roomName, *password); err != nil {
			logger.Error().Err(err).Str("room", *roomName).Msg("startup join failed")
		}
	}

	runErr := terminal.Run()

	coord.HangUp()
	for store.ExitActive() {
	}
	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("ui loop failed")
	}
	logger.Info().Msg("bye")
}

// newLogger writes structured logs to the configured file. The terminal is
// owned by gocui, so with no file configured logs are discarded.
func newLogger(cfg config.Log) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var (
		w       io.Writer = io.Discard
		logFile *os.File
	)
	if cfg.File != "" {
		logFile, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		w = logFile
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	closeFn := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	return logger, closeFn, nil
}

// callBridge is the only piece that knows both the room store and the call
// coordinator. It routes outbound signals through the room that holds the
// peer, feeds inbound ones into the coordinator with the sender's roster
// name, and ends calls whose room went away.
type callBridge struct {
	store *room.Store
	coord *call.Coordinator
}

func (b *callBridge) SendSignal(peerID string, sig protocol.CallSignal) error {
	return b.store.SendSignalTo(peerID, sig)
}

func (b *callBridge) HandleSignal(s *room.Session, senderID string, sig protocol.CallSignal) {
	name := "Anonymous"
	if u, ok := s.User(senderID); ok {
		name = u.UserName
	}
	b.coord.HandleSignal(senderID, name, sig)
}

func (b *callBridge) RoomClosed(s *room.Session) {
	peer := b.coord.Peer()
	if peer != "" && s.HasUser(peer) {
		b.coord.End("connection closed", false)
	}
}

// audioOnlyMedia drops the video constraint for configurations where camera
// capture is disabled; calls still connect with audio.
type audioOnlyMedia struct {
	call.Media
}

func (m audioOnlyMedia) Acquire(bool) (call.Capture, error) {
	return m.Media.Acquire(false)
}
