// Package app wires one peer process together: storage, catalog, network,
// game session and the local viewer API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/petervdpas/tunetrivia/internal/catalog"
	"github.com/petervdpas/tunetrivia/internal/config"
	"github.com/petervdpas/tunetrivia/internal/game"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/p2p"
	"github.com/petervdpas/tunetrivia/internal/proto"
	"github.com/petervdpas/tunetrivia/internal/state"
	"github.com/petervdpas/tunetrivia/internal/storage"
	"github.com/petervdpas/tunetrivia/internal/transport"
	"github.com/petervdpas/tunetrivia/internal/util"
	"github.com/petervdpas/tunetrivia/internal/viewer"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("app")

// subsystems whose level follows logging.level; libp2p keeps its own.
var subsystems = []string{"app", "game", "transport", "p2p", "viewer", "catalog"}

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	for _, s := range subsystems {
		if err := logging.SetLogLevel(s, cfg.Logging.Level); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}

	logs := viewer.NewLogBuffer(800)
	pipe := logging.NewPipeReader(logging.PipeFormat(logging.JSONOutput))
	defer pipe.Close()
	go func() { _, _ = io.Copy(logs, pipe) }()

	logBanner(opt.PeerDir, opt.CfgPath)

	db, err := storage.Open(opt.PeerDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Infow("database open", "path", db.Path())
	if err := seedProfile(db, cfg.Profile.DisplayName); err != nil {
		log.Warnw("could not seed profile", "err", err)
	}

	lib, err := catalog.OpenLibrary(util.ResolvePath(opt.PeerDir, cfg.Catalog.LibraryPath))
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	if cfg.Catalog.Watch {
		go func() {
			if err := lib.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("library watch stopped", "err", err)
			}
		}()
	}

	rooms := state.NewRoomTable()
	events := viewer.NewEventLog(cfg.Viewer.EventHistory)

	var (
		tr        transport.Transport
		announcer *p2p.Announcer
		session   *game.Session
	)
	switch cfg.Network {
	case config.NetworkLocal:
		tr = transport.NewHub().NewTransport()
		log.Infow("network: local hub, solo play only; set network to p2p to host or join rooms")
	default:
		node, err := p2p.NewNode(ctx, p2p.NodeConfig{
			ListenPort:     cfg.P2P.ListenPort,
			KeyFile:        util.ResolvePath(opt.PeerDir, cfg.Identity.KeyFile),
			MdnsTag:        cfg.P2P.MdnsTag,
			Topic:          cfg.Presence.Topic,
			BootstrapAddrs: cfg.P2P.BootstrapAddrs,
			PresenceTTL:    time.Duration(cfg.Presence.TTLSec) * time.Second,
		}, rooms)
		if err != nil {
			return fmt.Errorf("start p2p node: %w", err)
		}
		defer node.Close()

		ptr := p2p.NewTransport(p2p.TransportConfig{
			MdnsTag:        cfg.P2P.MdnsTag,
			ConnectTimeout: cfg.ConnectTimeout(),
			Resolver:       node,
			AddrTTL:        node.PresenceTTL(),
		})
		tr = ptr

		node.RunAnnouncementLoop(ctx, func(a proto.RoomAnnouncement) {
			log.Debugw("room announcement", "type", a.Type, "code", a.Code, "players", a.Players)
		})
		announcer = p2p.NewAnnouncer(node, time.Duration(cfg.Presence.HeartbeatSec)*time.Second, func() (proto.RoomAnnouncement, bool) {
			return hostedRoom(session.State(), ptr)
		})
		go runPruneLoop(ctx, rooms, cfg.Presence)
	}

	session = game.NewSession(game.Options{
		Transport: tr,
		Emit: func(e game.Event) {
			events.Push(e)
			if announcer != nil {
				announcer.Kick()
			}
		},
		OnComplete: func(r game.Result) { go recordMatch(db, r) },
		CodeLen:    cfg.Game.CodeLength,
	})
	defer session.Destroy()

	if announcer != nil {
		go announcer.Run(ctx)
	}

	errCh := make(chan error, 1)
	if cfg.Viewer.HTTPAddr != "" {
		addr, _ := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			errCh <- viewer.Start(ctx, addr, viewer.Viewer{
				Session:  session,
				Events:   events,
				Logs:     logs,
				Rooms:    rooms,
				Catalog:  lib,
				DB:       db,
				Defaults: cfg.GameSettings,
				SoloOnly: cfg.Network == config.NetworkLocal,
				OnChange: func() {
					if announcer != nil {
						announcer.Kick()
					}
				},
			})
		}()
	}

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

// hostedRoom describes the room this peer hosts, if any.
func hostedRoom(st game.State, tr *p2p.Transport) (proto.RoomAnnouncement, bool) {
	if st.Role != game.RoleHost || st.RoomCode == "" {
		return proto.RoomAnnouncement{}, false
	}
	ann := proto.RoomAnnouncement{
		Code:     st.RoomCode,
		PeerID:   tr.SelfID(),
		Players:  len(st.Players),
		Mode:     string(st.Settings.Mode),
		RoomType: string(st.Settings.RoomType),
		Started:  st.Phase != model.PhaseIdle,
		Addrs:    tr.Addrs(),
	}
	for _, p := range st.Players {
		if p.IsHost {
			ann.HostName = p.Name
		}
	}
	return ann, true
}

func runPruneLoop(ctx context.Context, rooms *state.RoomTable, p config.Presence) {
	ttl := time.Duration(p.TTLSec) * time.Second
	grace := time.Duration(p.GraceSec) * time.Second
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			rooms.PruneStale(now.Add(-ttl), now.Add(-grace))
		}
	}
}

func recordMatch(db *storage.DB, r game.Result) {
	id, err := db.RecordMatch(storage.MatchRow{
		RoomCode:   r.RoomCode,
		Mode:       string(r.Mode),
		RoomType:   string(r.RoomType),
		Rounds:     r.Rounds,
		Players:    r.Players,
		FinishedAt: r.FinishedAt,
	})
	if err != nil {
		log.Warnw("could not record match", "err", err)
		return
	}
	log.Infow("match recorded", "id", id, "code", r.RoomCode, "rounds", r.Rounds)
}

// seedProfile stores the configured display name unless one is saved
// already.
func seedProfile(db *storage.DB, name string) error {
	if name == "" {
		return nil
	}
	p, err := db.Profile()
	if err != nil {
		return err
	}
	if p.DisplayName != "" {
		return nil
	}
	return db.SaveProfile(storage.Profile{DisplayName: name})
}
