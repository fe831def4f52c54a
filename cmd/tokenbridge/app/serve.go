// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	stdcrypto "crypto"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/tokenbridge/pkg/linkserver"
	linkcrypto "github.com/stacklok/tokenbridge/pkg/linkserver/crypto"
	"github.com/stacklok/tokenbridge/pkg/linkserver/storage"
	"github.com/stacklok/tokenbridge/pkg/logger"
	"github.com/stacklok/tokenbridge/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tokenbridge link server",
	Long: `Start the tokenbridge link server and listen for HTTP requests.

Every flag can also be set through an environment variable with the
TOKENBRIDGE_ prefix, e.g. TOKENBRIDGE_SIGNING_KEY_FILE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("issuer", "", "Issuer identifier for minted tokens (iss claim)")
	serveCmd.Flags().String("audience", "", "Audience for minted tokens (aud claim)")
	serveCmd.Flags().String("signing-key-file", "", "Path to the PEM-encoded token signing key")
	serveCmd.Flags().String("signing-key", "", "PEM-encoded token signing key (alternative to signing-key-file)")
	serveCmd.Flags().String("key-id", "", "JWT kid header of minted tokens (derived from the key if empty)")
	serveCmd.Flags().String("client-public-key", "", "Base64url-encoded Ed25519 public key admitting link initiation")
	serveCmd.Flags().Duration("token-lifetime", time.Hour, "Validity window of minted tokens")
	serveCmd.Flags().Duration("link-ttl", storage.DefaultLinkRequestTTL, "Lifetime of a link request")
	serveCmd.Flags().Bool("dev", false, "Development mode: insecure cookies and a static dev session")

	serveCmd.Flags().String("redis-addr", "", "Redis address (host:port); empty selects in-memory storage")
	serveCmd.Flags().String("redis-username", "", "Redis username")
	serveCmd.Flags().String("redis-password", "", "Redis password")
	serveCmd.Flags().Int("redis-db", 0, "Redis logical database")
	serveCmd.Flags().String("redis-key-prefix", storage.DefaultKeyPrefix, "Redis key prefix")

	serveCmd.Flags().String("oidc-issuer", "", "Upstream OIDC provider issuer URL")
	serveCmd.Flags().String("oidc-client-id", "", "OIDC client ID")
	serveCmd.Flags().String("oidc-client-secret", "", "OIDC client secret")
	serveCmd.Flags().String("oidc-redirect-url", "", "Externally reachable OIDC callback URL")
	serveCmd.Flags().StringSlice("oidc-scopes", []string{"profile", "email"}, "Additional OIDC scopes")
	serveCmd.Flags().String("session-secret", "", "Secret authenticating browser session cookies (at least 32 bytes)")

	viper.SetEnvPrefix("TOKENBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	serveCmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", f.Name, err)
		}
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Ensure server is shutdown gracefully on Ctrl+C.
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	signingKey, err := loadSigningKey()
	if err != nil {
		return err
	}

	var clientKey ed25519.PublicKey
	if raw := viper.GetString("client-public-key"); raw != "" {
		clientKey, err = linkcrypto.DecodeClientPublicKey(raw)
		if err != nil {
			return fmt.Errorf("invalid client public key: %w", err)
		}
	}

	dev := viper.GetBool("dev")

	store, err := buildStore(ctx)
	if err != nil {
		return err
	}

	resolver, auth, err := buildSessions(ctx, dev)
	if err != nil {
		_ = store.Close()
		return err
	}

	srv, err := linkserver.New(linkserver.Options{
		Config: linkserver.Config{
			Issuer:                viper.GetString("issuer"),
			Audience:              viper.GetString("audience"),
			SigningKey:            signingKey,
			KeyID:                 viper.GetString("key-id"),
			ClientVerificationKey: clientKey,
			TokenLifetime:         viper.GetDuration("token-lifetime"),
			LinkTTL:               viper.GetDuration("link-ttl"),
			Dev:                   dev,
		},
		Store:    store,
		Sessions: resolver,
		Auth:     auth,
		Logger:   logger.Get(),
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	defer srv.Close()

	return srv.Serve(ctx, viper.GetString("address"))
}

// loadSigningKey resolves the token signing key from a file path or an
// inline PEM value.
func loadSigningKey() (stdcrypto.Signer, error) {
	if keyPath := viper.GetString("signing-key-file"); keyPath != "" {
		key, err := linkcrypto.LoadSigningKey(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		return key, nil
	}
	if keyPEM := viper.GetString("signing-key"); keyPEM != "" {
		key, err := linkcrypto.ParseSigningKey([]byte(keyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("signing-key-file or signing-key is required")
}

// buildStore selects the storage backend: Redis when an address is
// configured, in-memory otherwise.
func buildStore(ctx context.Context) (storage.Store, error) {
	addr := viper.GetString("redis-addr")
	if addr == "" {
		logger.Info("using in-memory link request storage")
		return storage.NewMemoryStore(), nil
	}

	logger.Infow("using Redis link request storage", "addr", addr)
	return storage.NewRedisStore(ctx, storage.RedisConfig{
		Addr:      addr,
		Username:  viper.GetString("redis-username"),
		Password:  viper.GetString("redis-password"),
		DB:        viper.GetInt("redis-db"),
		KeyPrefix: viper.GetString("redis-key-prefix"),
	})
}

// buildSessions wires the browser login. With an OIDC issuer configured the
// authenticator serves the full login round-trip; in dev mode without one, a
// static session stands in so the flow can be exercised locally.
func buildSessions(ctx context.Context, dev bool) (session.Resolver, *session.OIDCAuthenticator, error) {
	issuerURL := viper.GetString("oidc-issuer")
	if issuerURL == "" {
		if !dev {
			return nil, nil, fmt.Errorf("oidc-issuer is required outside dev mode")
		}
		logger.Warn("no OIDC provider configured; using a static dev session")
		return &session.StaticResolver{
			User: &session.User{ID: "dev-user", Email: "dev@localhost", Name: "Dev User"},
		}, nil, nil
	}

	auth, err := session.NewOIDCAuthenticator(ctx, session.OIDCConfig{
		IssuerURL:     issuerURL,
		ClientID:      viper.GetString("oidc-client-id"),
		ClientSecret:  viper.GetString("oidc-client-secret"),
		RedirectURL:   viper.GetString("oidc-redirect-url"),
		Scopes:        viper.GetStringSlice("oidc-scopes"),
		SessionSecret: []byte(viper.GetString("session-secret")),
		Dev:           dev,
	}, "/auth/complete-link")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure OIDC login: %w", err)
	}

	return auth, auth, nil
}
