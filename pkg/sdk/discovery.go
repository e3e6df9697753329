package sdk

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/config"
	"github.com/celerix-dev/celerix-records/internal/logging"
)

// Session bundles a configured client with its coordinator.
type Session struct {
	*Coordinator
	Client *Client

	// PreferImport is set when the configuration asks for import mode.
	// The caller decides when to run ImportAll so it can show progress.
	PreferImport bool
}

// New builds a session from client configuration. When a token is
// configured the session starts logged in, in direct mode.
func New(cfg config.ClientConfig) (*Session, error) {
	client, err := NewClient(Config{
		BaseURL:            cfg.BaseURL,
		Token:              cfg.Token,
		AuthScheme:         cfg.AuthScheme,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		Coordinator:  NewCoordinator(client, WithProgressInterval(cfg.ProgressInterval)),
		Client:       client,
		PreferImport: cfg.Mode == "import",
	}
	if cfg.Token != "" {
		s.Login(cfg.Token)
	}
	logging.Debug("session configured",
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("prefer_import", s.PreferImport))
	return s, nil
}

// FromEnv loads configuration from the environment and builds a session.
func FromEnv() (*Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg.Client)
}

// Open builds a session from the environment and, when import mode is
// preferred, imports the collection before returning.
func Open(ctx context.Context, onProgress func(Progress)) (*Session, error) {
	s, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if s.PreferImport && s.Mode() != ModeNone {
		if err := s.ImportAll(ctx, onProgress); err != nil {
			return s, fmt.Errorf("initial import: %w", err)
		}
	}
	return s, nil
}
