package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	popchat "github.com/popchat-app/popchat/sdk/golang"
)

// newLogger builds the CLI logger. Without --verbose everything is discarded.
func newLogger(w io.Writer) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// printNotifier prints notices and answers every question with assumeYes.
type printNotifier struct {
	mu        sync.Mutex
	out       io.Writer
	assumeYes bool
}

func (n *printNotifier) Show(_ context.Context, notice popchat.Notice) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if notice.Level == popchat.LevelQuestion {
		answer := "no"
		if n.assumeYes {
			answer = "yes"
		}
		fmt.Fprintf(n.out, "? %s %s\n", notice.Text, answer)
		return n.assumeYes
	}

	line := fmt.Sprintf("[%s] %s", notice.Level, notice.Title)
	if notice.Text != "" {
		line += ": " + notice.Text
	}
	fmt.Fprintln(n.out, line)
	return false
}

// client bundles a started syncer with the resources it holds.
type client struct {
	syncer    *popchat.Syncer
	transport *popchat.WSTransport
	cache     *popchat.SQLiteCache
	user      *popchat.User
}

func (c *client) Close() {
	c.syncer.Wait()
	c.transport.Close()
	if c.cache != nil {
		c.cache.Close()
	}
}

// connect resolves the session, opens the cache, connects the transport and
// loads the conversation list.
func connect(ctx context.Context, cfg *Config, notifier popchat.Notifier) (*client, error) {
	logger := newLogger(os.Stderr)

	session := popchat.NewSessionClient(
		popchat.WithBaseURL(cfg.Default.ServerURL),
		popchat.WithSessionCookie(cfg.Auth.Session),
	)
	user, err := session.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: set a session with 'popchat config set auth.session <token>'", popchat.ErrUnauthenticated)
	}

	cachePath := cfg.Default.CacheFile
	if cachePath == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		cachePath = filepath.Join(dir, "cache.db")
	}
	cache, err := popchat.OpenSQLiteCache(cachePath, &popchat.SQLiteOptions{Mode: "rwc", JournalMode: "WAL"})
	if err != nil {
		return nil, err
	}

	transport := popchat.NewWSTransport(&popchat.TransportConfig{
		URL:           cfg.Default.ServerURL,
		UserID:        user.ID,
		SessionCookie: cfg.Auth.Session,
		AutoReconnect: true,
		Logger:        logger,
	})
	syncer := popchat.NewSyncer(transport, nil,
		popchat.WithUser(user),
		popchat.WithCache(cache),
		popchat.WithNotifier(notifier),
		popchat.WithLogger(logger),
	)
	c := &client{syncer: syncer, transport: transport, cache: cache, user: user}

	// Events can arrive as soon as the socket is up.
	syncer.Attach(ctx, transport)
	if err := transport.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := syncer.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
