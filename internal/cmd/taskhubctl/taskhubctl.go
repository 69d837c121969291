// Package taskhubctl implements a terminal client for the notifications
// service: it pulls, mutates, watches pushes, and keeps an offline queue.
package taskhubctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/authn"
	entrypoint "github.com/louisbranch/taskhub/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/taskhub/internal/platform/grpc"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/services/notifications/client"
	"github.com/louisbranch/taskhub/internal/services/notifications/client/localstore"
	"github.com/louisbranch/taskhub/internal/services/notifications/client/offline"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "TASKHUBCTL"

// Settings is the resolved configuration shared by every subcommand.
type Settings struct {
	Server     string `mapstructure:"server"`
	PushURL    string `mapstructure:"push-url"`
	User       string `mapstructure:"user"`
	Token      string `mapstructure:"token"`
	Secret     string `mapstructure:"secret"`
	Issuer     string `mapstructure:"issuer"`
	StatePath  string `mapstructure:"state"`
	HealthAddr string `mapstructure:"health-addr"`
	LogLevel   string `mapstructure:"log-level"`
}

// pushURL derives the websocket endpoint from the server URL unless one was
// configured.
func (s Settings) pushURL() string {
	if s.PushURL != "" {
		return s.PushURL
	}
	base := strings.TrimRight(s.Server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

type app struct {
	v   *viper.Viper
	out io.Writer
	err io.Writer
}

// NewRootCommand builds the taskhubctl command tree. Settings come from flags,
// TASKHUBCTL_* environment variables, and an optional config file, in that
// order of precedence.
func NewRootCommand(out io.Writer, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, err: errOut}
	var configFile string

	root := &cobra.Command{
		Use:           "taskhubctl",
		Short:         "Terminal client for taskhub notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(configFile)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default $HOME/.taskhubctl.yaml)")
	flags.String("server", "http://localhost:8088", "notifications service base URL")
	flags.String("push-url", "", "websocket endpoint (derived from --server when empty)")
	flags.String("user", "", "user id to act as")
	flags.String("token", "", "bearer token for --user")
	flags.String("secret", "", "JWT signing secret, used by the token command")
	flags.String("issuer", "", "JWT issuer, used by the token command")
	flags.String("state", defaultStatePath(), "local state database for cached and queued data")
	flags.String("health-addr", "localhost:8089", "gRPC health address of the notifications service")
	flags.String("log-level", "warn", "log level")
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		a.newTokenCommand(),
		a.newListCommand(),
		a.newUnreadCommand(),
		a.newReadCommand(),
		a.newReadAllCommand(),
		a.newDeleteCommand(),
		a.newReplayCommand(),
		a.newPendingCommand(),
		a.newWatchCommand(),
		a.newHealthCommand(),
	)
	return root
}

func (a *app) loadConfig(configFile string) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if configFile != "" {
		a.v.SetConfigFile(configFile)
	} else {
		a.v.SetConfigName(".taskhubctl")
		a.v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home)
		}
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) settings() (Settings, error) {
	var s Settings
	if err := a.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (a *app) logger(s Settings) (*logrus.Logger, error) {
	return logging.New(logging.Config{Level: s.LogLevel, Format: "text"}, a.err)
}

// session bundles everything a user-facing subcommand needs.
type session struct {
	settings Settings
	store    *localstore.Store
	api      *client.API
	queue    *offline.Queue
	client   *client.Client
	log      *logrus.Logger
}

func (s *session) Close() error {
	return s.store.Close()
}

func (a *app) open(hooks client.Hooks) (*session, error) {
	settings, err := a.settings()
	if err != nil {
		return nil, err
	}
	if settings.Token == "" {
		return nil, errors.New("--token is required")
	}
	log, err := a.logger(settings)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(settings.StatePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	store, err := localstore.Open(settings.StatePath)
	if err != nil {
		return nil, err
	}
	api := client.NewAPI(settings.Server, settings.Token, nil)
	queue := offline.New(store, localstore.PendingNotifications, nil,
		offline.WithRequestDecorator(api.Authorize),
		offline.WithLogger(log),
	)
	c := client.New(api, queue, client.WithHooks(hooks), client.WithLogger(log))
	return &session{settings: settings, store: store, api: api, queue: queue, client: c, log: log}, nil
}

func (a *app) newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development identity token for --user",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			settings, err := a.settings()
			if err != nil {
				return err
			}
			if settings.User == "" {
				return errors.New("--user is required")
			}
			verifier, err := authn.NewVerifier(settings.Secret, settings.Issuer)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(settings.User, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func (a *app) newListCommand() *cobra.Command {
	var (
		page   int
		limit  int
		filter string
		cached bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := parseFilter(filter)
			if err != nil {
				return err
			}
			s, err := a.open(client.Hooks{})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if cached {
				items, err := loadCached(ctx, s.store)
				if err != nil {
					return err
				}
				return writeList(a.out, items, len(items), countUnread(items))
			}
			result, err := s.api.List(ctx, client.ListOptions{Page: page, Limit: limit, Filter: f})
			if err != nil {
				return err
			}
			if err := saveCached(ctx, s.store, result.Notifications, page <= 1); err != nil {
				s.log.WithError(err).Warn("cache notifications")
			}
			return writeList(a.out, result.Notifications, result.Total, result.UnreadCount)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	cmd.Flags().StringVar(&filter, "filter", "all", "read filter: all, unread or read")
	cmd.Flags().BoolVar(&cached, "cached", false, "show the last pulled notifications without contacting the server")
	return cmd
}

func (a *app) newUnreadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the unread badge count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(client.Hooks{})
			if err != nil {
				return err
			}
			defer s.Close()
			count, err := s.api.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, count)
			return err
		},
	}
}

func (a *app) newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark one notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				return c.MarkRead(ctx, args[0])
			}, func(ctx context.Context, store *localstore.Store) error {
				return markCachedRead(ctx, store, args[0])
			})
		},
	}
}

func (a *app) newReadAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutate(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				return c.MarkAllRead(ctx)
			}, markAllCachedRead)
		},
	}
}

func (a *app) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <notification-id>",
		Short: "Delete one notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd.Context(), func(ctx context.Context, c *client.Client) error {
				return c.Delete(ctx, args[0])
			}, func(ctx context.Context, store *localstore.Store) error {
				return store.Delete(ctx, localstore.Notifications, args[0])
			})
		},
	}
}

// mutate runs one user action. local is applied to the cached notifications
// first and is not rolled back. An unreachable server queues the action and
// is reported as success.
func (a *app) mutate(ctx context.Context, action func(context.Context, *client.Client) error, local func(context.Context, *localstore.Store) error) error {
	s, err := a.open(client.Hooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := local(ctx, s.store); err != nil {
		return fmt.Errorf("update cached notifications: %w", err)
	}

	before, err := s.queue.Pending(ctx)
	if err != nil {
		return err
	}
	if err := action(ctx, s.client); err != nil {
		return err
	}
	after, err := s.queue.Pending(ctx)
	if err != nil {
		return err
	}
	if len(after) > len(before) {
		_, err = fmt.Fprintf(a.out, "offline: queued (%d pending)\n", len(after))
		return err
	}
	_, err = fmt.Fprintln(a.out, "ok")
	return err
}

func (a *app) newReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay queued offline actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(client.Hooks{})
			if err != nil {
				return err
			}
			defer s.Close()
			result, err := s.queue.ReplayAll(cmd.Context())
			if _, writeErr := fmt.Fprintf(a.out, "replayed %d, remaining %d\n", result.Replayed, result.Remaining); writeErr != nil {
				return writeErr
			}
			return err
		},
	}
}

func (a *app) newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued offline actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(client.Hooks{})
			if err != nil {
				return err
			}
			defer s.Close()
			actions, err := s.queue.Pending(cmd.Context())
			if err != nil {
				return err
			}
			for _, action := range actions {
				if _, err := fmt.Fprintf(a.out, "%s %s %s\n", action.Timestamp.Format(time.RFC3339), action.Method, action.URL); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream pushed notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hooks := client.Hooks{
				OnAlert: func(n domain.Notification) {
					_ = writeNotification(a.out, n)
				},
				OnError: func(err error) {
					fmt.Fprintf(a.err, "error: %v\n", err)
				},
			}
			s, err := a.open(hooks)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.settings.User == "" {
				return errors.New("--user is required")
			}

			push := s.client.NewSession(client.SessionConfig{
				URL:    s.settings.pushURL(),
				UserID: s.settings.User,
				Token:  s.settings.Token,
			})
			log := s.log.WithField("service", entrypoint.ServiceClient)
			return entrypoint.RunWithTelemetry(cmd.Context(), entrypoint.ServiceClient, log, push.Run)
		},
	}
}

func (a *app) newHealthCommand() *cobra.Command {
	var (
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Wait until the notifications service reports SERVING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.settings()
			if err != nil {
				return err
			}
			log, err := a.logger(settings)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := platformgrpc.Probe(ctx, settings.HealthAddr, service, log); err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, "SERVING")
			return err
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "health service name (empty checks the whole server)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait")
	return cmd
}

func parseFilter(raw string) (client.Filter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return client.FilterAll, nil
	case "unread":
		return client.FilterUnread, nil
	case "read":
		return client.FilterRead, nil
	default:
		return client.FilterAll, fmt.Errorf("unknown filter %q", raw)
	}
}

func writeList(w io.Writer, items []domain.Notification, total int, unread int) error {
	for _, n := range items {
		if err := writeNotification(w, n); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d shown, %d total, %d unread\n", len(items), total, unread)
	return err
}

func writeNotification(w io.Writer, n domain.Notification) error {
	mark := " "
	if !n.IsRead {
		mark = "*"
	}
	_, err := fmt.Fprintf(w, "%s %s [%s] %s: %s\n", mark, n.ID, n.Type, n.Title, n.Message)
	return err
}

func countUnread(items []domain.Notification) int {
	unread := 0
	for _, n := range items {
		if !n.IsRead {
			unread++
		}
	}
	return unread
}

// saveCached stores pulled notifications. A first-page pull replaces the
// collection so records removed on the server drop out of the cache.
func saveCached(ctx context.Context, store *localstore.Store, items []domain.Notification, replace bool) error {
	if replace {
		if err := store.Clear(ctx, localstore.Notifications); err != nil {
			return err
		}
	}
	for _, n := range items {
		if err := store.Put(ctx, localstore.Notifications, n.ID, n); err != nil {
			return err
		}
	}
	return nil
}

func markCachedRead(ctx context.Context, store *localstore.Store, notificationID string) error {
	var n domain.Notification
	if err := store.Get(ctx, localstore.Notifications, notificationID, &n); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil
		}
		return err
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	return store.Put(ctx, localstore.Notifications, n.ID, n)
}

func markAllCachedRead(ctx context.Context, store *localstore.Store) error {
	items, err := loadCached(ctx, store)
	if err != nil {
		return err
	}
	for _, n := range items {
		if n.IsRead {
			continue
		}
		n.IsRead = true
		if err := store.Put(ctx, localstore.Notifications, n.ID, n); err != nil {
			return err
		}
	}
	return nil
}

func loadCached(ctx context.Context, store *localstore.Store) ([]domain.Notification, error) {
	docs, err := store.List(ctx, localstore.Notifications)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Notification, 0, len(docs))
	for _, raw := range docs {
		var n domain.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func defaultStatePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "taskhubctl", "state.db")
	}
	return "taskhubctl.db"
}
