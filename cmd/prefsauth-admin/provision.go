package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/store"
)

const secretBytes = 32

func newProvisionCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create records the authorization server reads",
	}
	cmd.AddCommand(
		newProvisionClientCmd(d),
		newProvisionCredentialCmd(d),
		newProvisionPrefsSafeCmd(d),
		newProvisionKeyCmd(d),
		newProvisionUserCmd(d),
		newProvisionSsoProviderCmd(d),
		newAPIKeyHashCmd(),
	)
	return cmd
}

func newProvisionClientCmd(d *deps) *cobra.Command {
	var name, accessType, userID string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Register an app installation client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			at := store.AccessType(accessType)
			switch at {
			case store.AccessTypePublic, store.AccessTypePrivate, store.AccessTypeSharedByTrustedParties:
			default:
				return fmt.Errorf("unknown access type %q", accessType)
			}
			return d.withStore(cmd, func(ctx context.Context, _ *config.Config, st store.Store) error {
				c := &store.Client{
					ID:               uuid.NewString(),
					Name:             name,
					UserID:           userID,
					AccessType:       at,
					TimestampCreated: d.now().UTC(),
				}
				if err := st.Insert(ctx, c); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": c.ID})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&accessType, "access-type", string(store.AccessTypePrivate), "public, private or sharedByTrustedParties")
	cmd.Flags().StringVar(&userID, "user-id", "", "owning user id")
	return cmd
}

type credentialOutput struct {
	ID                 string `json:"id"`
	OAuth2ClientID     string `json:"oauth2ClientId"`
	OAuth2ClientSecret string `json:"oauth2ClientSecret"`
}

func newProvisionCredentialCmd(d *deps) *cobra.Command {
	var (
		clientID       string
		oauth2ClientID string
		createKey      bool
		createSafe     bool
		ipBlocks       []string
	)
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Issue an OAuth2 client id and secret for a client",
		Long: `Issue an OAuth2 client id and secret for a client. The secret is printed
once and cannot be recovered later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				return errors.New("--client-id is required")
			}
			return d.withStore(cmd, func(ctx context.Context, c *config.Config, st store.Store) error {
				client, err := store.NewQueries(st, d.logger(c)).ClientByID(ctx, clientID)
				if err != nil {
					return err
				}
				if client == nil || client.Revoked() {
					return fmt.Errorf("client %s not found or revoked", clientID)
				}

				secret, err := randomHex(secretBytes)
				if err != nil {
					return err
				}
				if oauth2ClientID == "" {
					oauth2ClientID = uuid.NewString()
				}
				cred := &store.ClientCredential{
					ID:                       uuid.NewString(),
					ClientID:                 client.ID,
					OAuth2ClientID:           oauth2ClientID,
					OAuth2ClientSecret:       secret,
					IsCreateGpiiKeyAllowed:   createKey,
					IsCreatePrefsSafeAllowed: createSafe,
					AllowedIPBlocks:          ipBlocks,
					TimestampCreated:         d.now().UTC(),
				}
				if err := st.Insert(ctx, cred); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), credentialOutput{
					ID:                 cred.ID,
					OAuth2ClientID:     cred.OAuth2ClientID,
					OAuth2ClientSecret: cred.OAuth2ClientSecret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "id of the client the credential belongs to")
	cmd.Flags().StringVar(&oauth2ClientID, "oauth2-client-id", "", "public OAuth2 client id (generated when empty)")
	cmd.Flags().BoolVar(&createKey, "allow-create-key", false, "allow issuing tokens for keys that do not exist yet")
	cmd.Flags().BoolVar(&createSafe, "allow-create-safe", false, "allow creating prefs safes")
	cmd.Flags().StringSliceVar(&ipBlocks, "ip-block", nil, "CIDR block token requests must come from (repeatable)")
	return cmd
}

func newProvisionPrefsSafeCmd(d *deps) *cobra.Command {
	var name, safeType, preferences, key string
	cmd := &cobra.Command{
		Use:   "prefs-safe",
		Short: "Create a prefs safe and a key that resolves to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.SafeType(safeType)
			if st != store.SafeTypeSnapset && st != store.SafeTypeUser {
				return fmt.Errorf("unknown safe type %q", safeType)
			}
			if !json.Valid([]byte(preferences)) {
				return errors.New("--preferences must be valid JSON")
			}
			return d.withStore(cmd, func(ctx context.Context, _ *config.Config, s store.Store) error {
				now := d.now().UTC()
				safe := &store.PrefsSafe{
					ID:               uuid.NewString(),
					SafeType:         st,
					Name:             name,
					Preferences:      json.RawMessage(preferences),
					TimestampCreated: now,
				}
				if err := s.Insert(ctx, safe); err != nil {
					return err
				}
				if key == "" {
					key = uuid.NewString()
				}
				if err := s.Insert(ctx, &store.PrefsSafesKey{ID: key, PrefsSafeID: safe.ID, TimestampCreated: now}); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": safe.ID, "key": key})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "safe name")
	cmd.Flags().StringVar(&safeType, "safe-type", string(store.SafeTypeSnapset), "snapset or user")
	cmd.Flags().StringVar(&preferences, "preferences", "{}", "preferences JSON")
	cmd.Flags().StringVar(&key, "key", "", "prefs safes key (generated when empty)")
	return cmd
}

func newProvisionKeyCmd(d *deps) *cobra.Command {
	var safeID, key string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Add a key to an existing prefs safe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if safeID == "" {
				return errors.New("--prefs-safe-id is required")
			}
			return d.withStore(cmd, func(ctx context.Context, _ *config.Config, st store.Store) error {
				safe, err := store.FindOne[*store.PrefsSafe](ctx, st, store.TablePrefsSafes, safeID)
				if err != nil {
					return err
				}
				if safe == nil {
					return fmt.Errorf("prefs safe %s not found", safeID)
				}
				if key == "" {
					key = uuid.NewString()
				}
				if err := st.Insert(ctx, &store.PrefsSafesKey{ID: key, PrefsSafeID: safe.ID, TimestampCreated: d.now().UTC()}); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"key": key})
			})
		},
	}
	cmd.Flags().StringVar(&safeID, "prefs-safe-id", "", "safe the key resolves to")
	cmd.Flags().StringVar(&key, "key", "", "key value (generated when empty)")
	return cmd
}

func newProvisionUserCmd(d *deps) *cobra.Command {
	var name, username, password, safeID string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create a local user with a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			return d.withStore(cmd, func(ctx context.Context, _ *config.Config, st store.Store) error {
				u, err := store.NewLocalUser(name, username, password, d.now())
				if err != nil {
					return err
				}
				if err := st.Insert(ctx, u); err != nil {
					return err
				}
				if safeID != "" {
					if err := st.Insert(ctx, &store.CloudSafeCredential{ID: uuid.NewString(), UserID: u.ID, PrefsSafeID: safeID}); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": u.ID})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&safeID, "prefs-safe-id", "", "prefs safe to link the user to")
	return cmd
}

func newProvisionSsoProviderCmd(d *deps) *cobra.Command {
	var provider, clientID, clientSecret string
	cmd := &cobra.Command{
		Use:   "sso-provider",
		Short: "Register this service's OAuth2 client at an identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" || clientID == "" || clientSecret == "" {
				return errors.New("--provider, --client-id and --client-secret are required")
			}
			return d.withStore(cmd, func(ctx context.Context, _ *config.Config, st store.Store) error {
				p := &store.SsoProvider{
					ID:               uuid.NewString(),
					Provider:         provider,
					ClientID:         clientID,
					ClientSecret:     clientSecret,
					TimestampCreated: d.now().UTC(),
				}
				if err := st.Insert(ctx, p); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": p.ID})
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "google", "provider name")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id issued by the provider")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "client secret issued by the provider")
	return cmd
}

func newAPIKeyHashCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "api-key-hash",
		Short: "Generate an admin API key and its ADMIN_API_KEY_HASH value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				k, err := randomHex(secretBytes)
				if err != nil {
					return err
				}
				key = k
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing key: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"apiKey": key, "hash": string(hash)})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "key to hash (generated when empty)")
	return cmd
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
