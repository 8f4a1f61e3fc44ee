package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/fpt/chatdesk/internal/app"
	"github.com/fpt/chatdesk/internal/config"
	"github.com/fpt/chatdesk/internal/persistence"
	"github.com/fpt/chatdesk/internal/preset"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	pkgLogger "github.com/fpt/chatdesk/pkg/logger"
)

// environment is everything a command needs to talk to the chat controller
type environment struct {
	chat    *app.Chat
	dirs    *config.UserDirs
	colored bool
	close   func() error
}

func (e *environment) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

// applyOverrides layers flag and environment values from v over the settings file
func applyOverrides(settings *config.Settings, v *viper.Viper) {
	provider := v.GetString("provider")
	model := v.GetString("model")
	if provider != "" {
		settings.Provider = config.GetDefaultProviderSettings(provider)
		// keep the typo visible to ValidateSettings instead of silently using openai
		settings.Provider.Backend = provider
	}
	if model != "" {
		settings.Provider.Model = model
	}
	if backend := v.GetString("persistence"); backend != "" {
		settings.Persistence.Backend = backend
	}
	if level := v.GetString("log-level"); level != "" {
		settings.LogLevel = level
	}
	if v.GetBool("verbose") {
		settings.LogLevel = string(pkgLogger.LogLevelDebug)
	}
}

func newEnvironment() (*environment, error) {
	settings, err := config.LoadSettings(viper.GetString("settings"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load settings: %v\n", err)
		settings = config.GetDefaultSettings()
	}
	applyOverrides(settings, viper.GetViper())
	if err := config.ValidateSettings(settings); err != nil {
		return nil, err
	}

	dirs, err := config.DefaultUserDirs()
	if err != nil {
		return nil, err
	}

	var console io.Writer = io.Discard
	if viper.GetBool("verbose") {
		console = os.Stderr
	}
	pkgLogger.Configure(pkgLogger.Options{
		Level:    pkgLogger.ParseLevel(settings.LogLevel),
		Console:  console,
		FilePath: filepath.Join(dirs.LogsDir, "chatdesk.log"),
	})
	logger := pkgLogger.NewComponentLogger("main")
	logger.DebugWithIntention(pkgLogger.IntentionConfig, "Settings loaded",
		"provider", settings.Provider.Backend, "model", settings.Provider.Model,
		"persistence", settings.Persistence.Backend)

	repo, closeRepo, err := settings.NewStateRepository(dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	presets, err := preset.Load(dirs.PresetsFile)
	if err != nil {
		logger.Warn("Ignoring user presets", "error", err)
		presets = nil
	}

	provider, _ := domain.ParseProvider(settings.Provider.Backend)
	credential := viper.GetString("api-key")
	if credential == "" {
		credential = settings.CredentialFromEnv(provider)
	}

	chat, err := app.NewChat(app.Options{
		Settings:   settings,
		Gateway:    persistence.NewGateway(repo, pkgLogger.NewComponentLogger("persistence")),
		Presets:    presets,
		Credential: credential,
		Logger:     pkgLogger.NewComponentLogger("chat"),
	})
	if err != nil {
		closeRepo()
		return nil, err
	}

	colored := term.IsTerminal(int(os.Stdout.Fd())) && !viper.GetBool("no-color")
	return &environment{chat: chat, dirs: dirs, colored: colored, close: closeRepo}, nil
}

// loadSaved restores saved conversations for one-shot commands. An explicit
// --api-key still wins over the saved credential.
func (e *environment) loadSaved(ctx context.Context) error {
	if _, err := e.chat.LoadSaved(ctx); err != nil {
		return err
	}
	if key := viper.GetString("api-key"); key != "" {
		e.chat.SetCredential(ctx, key)
	}
	return nil
}
