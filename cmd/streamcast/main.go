package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v3"

	"github.com/avelichka/streamcast/internal/config"
	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/media"
	"github.com/avelichka/streamcast/internal/orchestrator"
	"github.com/avelichka/streamcast/internal/signaling"
	"github.com/avelichka/streamcast/internal/transport"
	"github.com/avelichka/streamcast/lib/logger/sl"
	"github.com/avelichka/streamcast/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	roleFlag := flag.String("role", string(domain.RoleViewer), "broadcaster or viewer")
	roomFlag := flag.String("room", "", "room id to join")
	peerFlag := flag.String("peer", "", "local peer id (generated when empty)")
	streamFlag := flag.String("stream", string(domain.StreamCamera), "stream kind for the broadcaster: camera or screen")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	role := domain.Role(*roleFlag)
	if !role.Valid() {
		log.Error("invalid role", slog.String("role", *roleFlag))
		os.Exit(1)
	}
	if *roomFlag == "" {
		log.Error("room id is required")
		os.Exit(1)
	}

	peerID := *peerFlag
	if peerID == "" {
		peerID = uuid.New().String()
	}

	link := signaling.NewClient(cfg.Signal.URL, log)
	factory := transport.NewPionFactory(cfg.WebRTC.STUNServers)
	mediaCtl := media.NewController(media.NewSyntheticCapture(), log)

	orch := orchestrator.New(link, factory, mediaCtl, &clientEvents{log: log}, orchestrator.Config{
		GatherTimeout: cfg.WebRTC.GatherTimeout,
		Recovery: orchestrator.RecoveryPolicy{
			MaxAttempts: cfg.Recovery.MaxAttempts,
			BaseDelay:   cfg.Recovery.BaseDelay,
		},
	}, log)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := orch.Start(startCtx, role, peerID, *roomFlag); err != nil {
		log.Error("failed to start session", sl.Err(err))
		os.Exit(1)
	}

	if role == domain.RoleBroadcaster {
		if err := orch.SetLocalStream(startCtx, domain.StreamKind(*streamFlag)); err != nil {
			log.Error("failed to publish local stream", sl.Err(err))
			orch.Shutdown()
			os.Exit(1)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	orch.Shutdown()
}

type clientEvents struct {
	log *slog.Logger
}

func (e *clientEvents) OnPeerJoined(peer domain.PeerInfo) {
	e.log.Info("peer joined", slog.String("peer_id", peer.ID), slog.String("role", string(peer.Role)))
}

func (e *clientEvents) OnPeerLeft(peerID string) {
	e.log.Info("peer left", slog.String("peer_id", peerID))
}

func (e *clientEvents) OnPeerStateChange(peerID string, state domain.ConnState) {
	e.log.Info("peer connection state",
		slog.String("peer_id", peerID),
		slog.String("state", string(state)),
	)
}

func (e *clientEvents) OnRemoteTrack(peerID string, track *webrtc.TrackRemote) {
	e.log.Info("remote track",
		slog.String("peer_id", peerID),
		slog.String("kind", track.Kind().String()),
		slog.String("codec", track.Codec().MimeType),
	)
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
