package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/casaline/casachat/internal/cache"
	"github.com/casaline/casachat/internal/channel"
	"github.com/casaline/casachat/internal/cli"
	"github.com/casaline/casachat/internal/config"
	"github.com/casaline/casachat/internal/logging"
	"github.com/casaline/casachat/internal/marketplace"
	"github.com/casaline/casachat/internal/outbox"
	"github.com/casaline/casachat/internal/session"
	"github.com/casaline/casachat/internal/store"
	"github.com/casaline/casachat/internal/typing"
)

func main() {
	cmd := "chat"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "chat":
		cmdChat()
	case "status":
		cmdStatus()
	case "init":
		if err := cli.RunInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Println(cli.TitleStyle.Render(
			fmt.Sprintf("  %s casachat v%s", cli.Logo, cli.Version),
		))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	dim := cli.DimStyle.Render
	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s casachat", cli.Logo)) + dim(" — Marketplace chat"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Usage"))
	fmt.Println()
	fmt.Printf("    casachat %-10s %s\n", "", dim("Open the conversation"))
	fmt.Printf("    casachat %-10s %s\n", "status", dim("Show configuration"))
	fmt.Printf("    casachat %-10s %s\n", "init", dim("Write a starter config"))
	fmt.Printf("    casachat %-10s %s\n", "version", dim("Show version"))
	fmt.Println()
}

// --- chat command ---

func cmdChat() {
	cfg := mustLoadConfig()
	if cfg.Server.Token == "" || cfg.Identity.UserID == "" {
		fmt.Println()
		fmt.Println(cli.ErrStyle.Render("  Error: No credentials configured"))
		fmt.Println(cli.DimStyle.Render("  Set server.token and identity.userId in " + config.ConfigPath()))
		fmt.Println()
		os.Exit(1)
	}
	redirectLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	self := channel.Identity{
		UserID:      cfg.Identity.UserID,
		Role:        cfg.Identity.Role,
		DisplayName: cfg.Identity.DisplayName,
	}
	mkt := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Server.Token)

	roomID, err := resolveRoom(ctx, cfg, mkt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	st := store.New()
	sock := channel.NewSocket(cfg.Server.URL, cfg.Server.Token)

	var roomCache *cache.Cache
	if c, err := cache.Open(cfg.CacheFile()); err != nil {
		slog.Warn("Room cache unavailable", "path", cfg.CacheFile(), "err", err)
	} else {
		roomCache = c
		defer c.Close()
	}

	updates := make(chan struct{}, 1)
	notices := make(chan session.Notice, 8)

	sess := session.New(session.Config{
		Channel:           sock,
		Store:             st,
		Cache:             roomCache,
		Self:              self,
		RemoteTypingDecay: cfg.RemoteTypingDecay(),
		OnUpdate: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
		OnNotice: func(n session.Notice) {
			select {
			case notices <- n:
			default:
			}
		},
	})

	ctrl := outbox.New(outbox.Config{
		Store:    st,
		Channel:  sock,
		Uploader: mkt,
		Deleter:  mkt,
		Self:     self,
		Room:     sess.Room,
	})

	local := typing.NewLocal(cfg.TypingQuiet(),
		func() {
			if room := sess.Room(); room != "" {
				if err := sock.TypingStart(ctx, room, self); err != nil {
					slog.Debug("Typing start failed", "err", err)
				}
			}
		},
		func() {
			if room := sess.Room(); room != "" {
				if err := sock.TypingStop(ctx, room, self); err != nil {
					slog.Debug("Typing stop failed", "err", err)
				}
			}
		},
	)

	go func() {
		if err := sock.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Chat server connection error", "err", err)
		}
	}()
	go sess.Run(ctx)
	sess.SetRoom(ctx, roomID)

	err = cli.RunChat(ctx, cli.ChatConfig{
		Session: sess,
		Outbox:  ctrl,
		Store:   st,
		Typing:  local,
		Closer:  mkt,
		Updates: updates,
		Notices: notices,
		Title:   "casachat · " + roomID,
	})
	sock.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// resolveRoom returns the configured room, creating one through the
// marketplace API when only the counterpart and property are known.
// A created room id is written back to the config.
func resolveRoom(ctx context.Context, cfg *config.Config, mkt *marketplace.Client) (string, error) {
	if cfg.Chat.RoomID != "" {
		return cfg.Chat.RoomID, nil
	}
	if cfg.Chat.CounterpartID == "" || cfg.Chat.PropertyID == "" {
		return "", fmt.Errorf("no room configured: set chat.roomId, or chat.counterpartId and chat.propertyId")
	}

	tenantID, landlordID := cfg.Identity.UserID, cfg.Chat.CounterpartID
	if cfg.Identity.Role == "landlord" {
		tenantID, landlordID = landlordID, tenantID
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	room, err := mkt.CreateRoom(ctx, tenantID, landlordID, cfg.Chat.PropertyID)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	cfg.Chat.RoomID = room.ID
	if err := config.Save(cfg); err != nil {
		slog.Warn("Could not persist room id", "err", err)
	}
	return room.ID, nil
}

// --- status command ---

func cmdStatus() {
	cfg, _ := config.Load()
	cli.RunStatus(cfg)
}

// --- helpers ---

func redirectLogs() {
	logPath := filepath.Join(config.DataDir(), "chat.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.SetDefault(slog.New(logging.NewHandler(io.Discard, nil)))
		return
	}
	slog.SetDefault(slog.New(logging.NewHandler(f, &logging.Options{Level: slog.LevelDebug})))
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
	}
	return cfg
}
