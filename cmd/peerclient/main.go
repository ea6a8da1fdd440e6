// Command peerclient joins a meeting as a headless participant with synthetic
// media. It is used for smoke-testing a deployment end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/immxrtalbeast/mockmeet/internal/config"
	"github.com/immxrtalbeast/mockmeet/internal/peer"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
	"github.com/immxrtalbeast/mockmeet/lib/logger/slogpretty"
)

type joinOptions struct {
	configPath string
	sessionID  string
	token      string
	identity   string
	serverURL  string
	iceURL     string
	noMedia    bool
	shareAfter time.Duration
	endAfter   time.Duration
}

func main() {
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peerclient",
		Short:         "Headless participant for mock interview meetings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newJoinCmd())
	return root
}

func newJoinCmd() *cobra.Command {
	var opts joinOptions

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a meeting and stay until it ends",
		Long:  "Join a meeting with synthetic audio and video, negotiate with the other participant and stay connected until the meeting ends or Ctrl+C.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config/local.yaml", "Path to config file")
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session id to join")
	cmd.Flags().StringVarP(&opts.token, "token", "t", "", "Bearer token")
	cmd.Flags().StringVar(&opts.identity, "identity", "", "Mint a token for this identity with the configured secret")
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "Signaling websocket URL")
	cmd.Flags().StringVar(&opts.iceURL, "ice-url", "", "ICE server list URL")
	cmd.Flags().BoolVar(&opts.noMedia, "no-media", false, "Join receive-only")
	cmd.Flags().DurationVar(&opts.shareAfter, "share-after", 0, "Start a screen share after this long")
	cmd.Flags().DurationVar(&opts.endAfter, "end-after", 0, "End the meeting after this long")

	return cmd
}

func runJoin(ctx context.Context, opts joinOptions) error {
	cfg, err := config.LoadPath(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := setupLogger(cfg.Env)

	sessionID := firstNonEmpty(opts.sessionID, cfg.Client.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	token := firstNonEmpty(opts.token, cfg.Client.Token)
	if token == "" && opts.identity != "" {
		token, err = mintToken(cfg.Auth.JWTSecret, opts.identity)
		if err != nil {
			return fmt.Errorf("minting token: %w", err)
		}
	}
	serverURL := firstNonEmpty(opts.serverURL, cfg.Client.ServerURL)
	iceURL := firstNonEmpty(opts.iceURL, cfg.Client.ICEURL)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	iceServers := peer.FetchICEServers(ctx, http.DefaultClient, iceURL, token, log)

	factory, err := peer.NewPionFactory(log)
	if err != nil {
		return fmt.Errorf("initializing webrtc: %w", err)
	}

	transport, err := peer.DialSignaling(ctx, serverURL, token)
	if err != nil {
		return err
	}
	defer transport.Close()

	devices := &peer.SyntheticDevices{DenyUserMedia: opts.noMedia}
	manager := peer.NewManager(factory, devices, transport, iceServers, log)
	manager.OnStateChange(func(s peer.State) {
		log.Info("connection state", slog.String("state", string(s)))
	})
	manager.OnRemoteTrack(func(t peer.RemoteTrack) {
		log.Info("receiving remote track", slog.String("kind", t.Kind.String()), slog.String("track_id", t.ID))
	})

	call := peer.NewCall(sessionID, transport, manager, log)

	if opts.shareAfter > 0 {
		time.AfterFunc(opts.shareAfter, func() {
			if err := manager.StartScreenShare(ctx); err != nil {
				log.Warn("screen share failed", sl.Err(err))
			}
		})
	}
	if opts.endAfter > 0 {
		time.AfterFunc(opts.endAfter, func() {
			if err := call.End(); err != nil {
				log.Warn("failed to end meeting", sl.Err(err))
			}
		})
	}

	log.Info("joining meeting", slog.String("session_id", sessionID), slog.String("server", serverURL))
	return call.Run(ctx)
}

func mintToken(secret, identity string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.jwt_secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	})
	return token.SignedString([]byte(secret))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setupLogger(env string) *slog.Logger {
	if env == "prod" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
	}
	return slog.New(opts.NewPrettyHandler(os.Stdout))
}
