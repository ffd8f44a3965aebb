package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/authz"
	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/store"
	"github.com/example/prefsauth/internal/token"
)

func newRevokeCmd(d *deps) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke credentials, keys and access tokens",
	}
	cmd.PersistentFlags().StringVar(&reason, "reason", "", "reason recorded with the revocation")

	credential := &cobra.Command{
		Use:   "credential <client-credential-id>",
		Short: "Revoke a client credential and every access token issued to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return d.withStore(cmd, func(ctx context.Context, c *config.Config, st store.Store) error {
				cred, err := store.FindOne[*store.ClientCredential](ctx, st, store.TableClientCredentials, args[0])
				if err != nil {
					return err
				}
				if cred == nil {
					return fmt.Errorf("client credential %s not found", args[0])
				}
				if !cred.Revoked {
					now := d.now().UTC()
					cred.Revoked = true
					cred.RevokedReason = reason
					cred.TimestampRevoked = &now
					if err := st.Update(ctx, cred); err != nil {
						return err
					}
				}
				n, err := d.authzService(c, st).RevokeClientCredentialAuthorizations(ctx, cred.ID, reason)
				if err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"revokedAuthorizations": n})
			})
		},
	}

	key := &cobra.Command{
		Use:   "key <prefs-safes-key>",
		Short: "Revoke a prefs safes key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return d.withStore(cmd, func(ctx context.Context, _ *config.Config, st store.Store) error {
				k, err := store.FindOne[*store.PrefsSafesKey](ctx, st, store.TablePrefsSafesKeys, args[0])
				if err != nil {
					return err
				}
				if k == nil || k.Revoked {
					return fmt.Errorf("prefs safes key %s not found or already revoked", args[0])
				}
				now := d.now().UTC()
				k.Revoked = true
				k.RevokedReason = reason
				k.TimestampRevoked = &now
				if err := st.Update(ctx, k); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"key": k.ID})
			})
		},
	}

	authorization := &cobra.Command{
		Use:   "token <access-token>",
		Short: "Revoke the authorization behind one access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return d.withStore(cmd, func(ctx context.Context, c *config.Config, st store.Store) error {
				if err := d.authzService(c, st).RevokeAuthorization(ctx, args[0], reason); err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]bool{"revoked": true})
			})
		},
	}

	cmd.AddCommand(credential, key, authorization)
	return cmd
}

func (d *deps) authzService(c *config.Config, st store.Store) *authz.Service {
	return authz.NewService(st, token.UUIDGenerator{}, apierr.DefaultCatalog(), d.logger(c),
		authz.WithClock(d.now))
}

// describe reduces a taxonomy error to its message.
func describe(err error) error {
	if e, ok := apierr.As(err); ok {
		return errors.New(e.Message)
	}
	return err
}
