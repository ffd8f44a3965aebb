package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

// tableDef describes how one entity maps onto its table. columns[0] is
// always the primary key, and values returns one entry per column.
type tableDef struct {
	name    Table
	docType string
	columns []string
	values  func(Record) []any
	scan    func(scanner) (Record, error)
}

func (d *tableDef) hasColumn(field string) bool {
	for _, c := range d.columns {
		if c == field {
			return true
		}
	}
	return false
}

func (d *tableDef) columnIndex(field string) int {
	for i, c := range d.columns {
		if c == field {
			return i
		}
	}
	return -1
}

var tables = map[Table]*tableDef{
	TableUsers: {
		name:    TableUsers,
		docType: TypeUser,
		columns: []string{"id", "name", "username", "derived_key", "salt", "iterations", "verification_code", "verified", "roles", "timestamp_created"},
		values: func(rec Record) []any {
			r := rec.(*User)
			return []any{r.ID, nullable(r.Name), nullable(r.Username), nullable(r.DerivedKey), nullable(r.Salt), r.Iterations, nullable(r.VerificationCode), r.Verified, jsonList(r.Roles), r.TimestampCreated}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r                                              User
				name, username, key, salt, verification, roles sql.NullString
			)
			if err := s.Scan(&r.ID, &name, &username, &key, &salt, &r.Iterations, &verification, &r.Verified, &roles, &r.TimestampCreated); err != nil {
				return nil, err
			}
			r.Name, r.Username, r.DerivedKey, r.Salt, r.VerificationCode = name.String, username.String, key.String, salt.String, verification.String
			if err := decodeList(roles, &r.Roles); err != nil {
				return nil, fmt.Errorf("decoding roles of user %s: %w", r.ID, err)
			}
			return &r, nil
		},
	},
	TablePrefsSafes: {
		name:    TablePrefsSafes,
		docType: TypePrefsSafe,
		columns: []string{"id", "safe_type", "name", "email", "password", "preferences", "timestamp_created", "timestamp_updated"},
		values: func(rec Record) []any {
			r := rec.(*PrefsSafe)
			return []any{r.ID, string(r.SafeType), nullable(r.Name), nullable(r.Email), nullable(r.Password), jsonRaw(r.Preferences), r.TimestampCreated, nullableTime(r.TimestampUpdated)}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r                                 PrefsSafe
				safeType                          string
				name, email, password, preferences sql.NullString
				updated                           sql.NullTime
			)
			if err := s.Scan(&r.ID, &safeType, &name, &email, &password, &preferences, &r.TimestampCreated, &updated); err != nil {
				return nil, err
			}
			r.SafeType = SafeType(safeType)
			r.Name, r.Email, r.Password = name.String, email.String, password.String
			if preferences.Valid {
				r.Preferences = json.RawMessage(preferences.String)
			}
			r.TimestampUpdated = timePtr(updated)
			return &r, nil
		},
	},
	TablePrefsSafesKeys: {
		name:    TablePrefsSafesKeys,
		docType: TypePrefsSafesKey,
		columns: []string{"id", "prefs_safe_id", "revoked", "revoked_reason", "timestamp_created", "timestamp_revoked"},
		values: func(rec Record) []any {
			r := rec.(*PrefsSafesKey)
			return []any{r.ID, r.PrefsSafeID, r.Revoked, nullable(r.RevokedReason), r.TimestampCreated, nullableTime(r.TimestampRevoked)}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r       PrefsSafesKey
				reason  sql.NullString
				revoked sql.NullTime
			)
			if err := s.Scan(&r.ID, &r.PrefsSafeID, &r.Revoked, &reason, &r.TimestampCreated, &revoked); err != nil {
				return nil, err
			}
			r.RevokedReason = reason.String
			r.TimestampRevoked = timePtr(revoked)
			return &r, nil
		},
	},
	TableCloudSafeCredentials: {
		name:    TableCloudSafeCredentials,
		docType: TypeCloudSafeCredential,
		columns: []string{"id", "user_id", "prefs_safe_id"},
		values: func(rec Record) []any {
			r := rec.(*CloudSafeCredential)
			return []any{r.ID, r.UserID, r.PrefsSafeID}
		},
		scan: func(s scanner) (Record, error) {
			var r CloudSafeCredential
			if err := s.Scan(&r.ID, &r.UserID, &r.PrefsSafeID); err != nil {
				return nil, err
			}
			return &r, nil
		},
	},
	TableClients: {
		name:    TableClients,
		docType: TypeClient,
		columns: []string{"id", "name", "user_id", "access_type", "timestamp_created", "timestamp_revoked"},
		values: func(rec Record) []any {
			r := rec.(*Client)
			return []any{r.ID, r.Name, nullable(r.UserID), string(r.AccessType), r.TimestampCreated, nullableTime(r.TimestampRevoked)}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r          Client
				userID     sql.NullString
				accessType string
				revoked    sql.NullTime
			)
			if err := s.Scan(&r.ID, &r.Name, &userID, &accessType, &r.TimestampCreated, &revoked); err != nil {
				return nil, err
			}
			r.UserID = userID.String
			r.AccessType = AccessType(accessType)
			r.TimestampRevoked = timePtr(revoked)
			return &r, nil
		},
	},
	TableClientCredentials: {
		name:    TableClientCredentials,
		docType: TypeClientCredential,
		columns: []string{"id", "client_id", "oauth2_client_id", "oauth2_client_secret", "is_create_gpii_key_allowed", "is_create_prefs_safe_allowed", "allowed_ip_blocks", "revoked", "revoked_reason", "timestamp_created", "timestamp_revoked"},
		values: func(rec Record) []any {
			r := rec.(*ClientCredential)
			return []any{r.ID, r.ClientID, r.OAuth2ClientID, r.OAuth2ClientSecret, r.IsCreateGpiiKeyAllowed, r.IsCreatePrefsSafeAllowed, jsonList(r.AllowedIPBlocks), r.Revoked, nullable(r.RevokedReason), r.TimestampCreated, nullableTime(r.TimestampRevoked)}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r              ClientCredential
				blocks, reason sql.NullString
				revoked        sql.NullTime
			)
			if err := s.Scan(&r.ID, &r.ClientID, &r.OAuth2ClientID, &r.OAuth2ClientSecret, &r.IsCreateGpiiKeyAllowed, &r.IsCreatePrefsSafeAllowed, &blocks, &r.Revoked, &reason, &r.TimestampCreated, &revoked); err != nil {
				return nil, err
			}
			if err := decodeList(blocks, &r.AllowedIPBlocks); err != nil {
				return nil, fmt.Errorf("decoding allowed IP blocks of credential %s: %w", r.ID, err)
			}
			r.RevokedReason = reason.String
			r.TimestampRevoked = timePtr(revoked)
			return &r, nil
		},
	},
	TableAuthorizations: {
		name:    TableAuthorizations,
		docType: TypeAuthorization,
		columns: []string{"id", "client_id", "user_id", "prefs_safes_key", "client_credential_id", "access_token", "revoked", "revoked_reason", "timestamp_created", "timestamp_revoked", "timestamp_expires"},
		values: func(rec Record) []any {
			r := rec.(*Authorization)
			return []any{r.ID, r.ClientID, nullable(r.UserID), nullable(r.PrefsSafesKey), r.ClientCredentialID, r.AccessToken, r.Revoked, nullable(r.RevokedReason), r.TimestampCreated, nullableTime(r.TimestampRevoked), r.TimestampExpires}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r                   Authorization
				userID, key, reason sql.NullString
				revoked             sql.NullTime
			)
			if err := s.Scan(&r.ID, &r.ClientID, &userID, &key, &r.ClientCredentialID, &r.AccessToken, &r.Revoked, &reason, &r.TimestampCreated, &revoked, &r.TimestampExpires); err != nil {
				return nil, err
			}
			r.UserID, r.PrefsSafesKey, r.RevokedReason = userID.String, key.String, reason.String
			r.TimestampRevoked = timePtr(revoked)
			return &r, nil
		},
	},
	TableSsoProviders: {
		name:    TableSsoProviders,
		docType: TypeSsoProvider,
		columns: []string{"id", "provider", "client_id", "client_secret", "revoked", "timestamp_created"},
		values: func(rec Record) []any {
			r := rec.(*SsoProvider)
			return []any{r.ID, r.Provider, r.ClientID, r.ClientSecret, r.Revoked, r.TimestampCreated}
		},
		scan: func(s scanner) (Record, error) {
			var r SsoProvider
			if err := s.Scan(&r.ID, &r.Provider, &r.ClientID, &r.ClientSecret, &r.Revoked, &r.TimestampCreated); err != nil {
				return nil, err
			}
			return &r, nil
		},
	},
	TableSsoAccounts: {
		name:    TableSsoAccounts,
		docType: TypeSsoAccount,
		columns: []string{"id", "user_id", "provider", "provider_user_id", "user_info", "timestamp_created", "timestamp_updated"},
		values: func(rec Record) []any {
			r := rec.(*SsoAccount)
			return []any{r.ID, r.UserID, r.Provider, r.ProviderUserID, jsonRaw(r.UserInfo), r.TimestampCreated, nullableTime(r.TimestampUpdated)}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r        SsoAccount
				userInfo sql.NullString
				updated  sql.NullTime
			)
			if err := s.Scan(&r.ID, &r.UserID, &r.Provider, &r.ProviderUserID, &userInfo, &r.TimestampCreated, &updated); err != nil {
				return nil, err
			}
			if userInfo.Valid {
				r.UserInfo = json.RawMessage(userInfo.String)
			}
			r.TimestampUpdated = timePtr(updated)
			return &r, nil
		},
	},
	TableSsoAccessTokens: {
		name:    TableSsoAccessTokens,
		docType: TypeSsoAccessToken,
		columns: []string{"id", "sso_account_id", "provider", "access_token", "refresh_token", "login_token", "expires_at", "revoked", "timestamp_created", "timestamp_updated"},
		values: func(rec Record) []any {
			r := rec.(*SsoAccessToken)
			return []any{r.ID, r.SsoAccountID, r.Provider, r.AccessToken, nullable(r.RefreshToken), r.LoginToken, r.ExpiresAt, r.Revoked, r.TimestampCreated, nullableTime(r.TimestampUpdated)}
		},
		scan: func(s scanner) (Record, error) {
			var (
				r       SsoAccessToken
				refresh sql.NullString
				updated sql.NullTime
			)
			if err := s.Scan(&r.ID, &r.SsoAccountID, &r.Provider, &r.AccessToken, &refresh, &r.LoginToken, &r.ExpiresAt, &r.Revoked, &r.TimestampCreated, &updated); err != nil {
				return nil, err
			}
			r.RefreshToken = refresh.String
			r.TimestampUpdated = timePtr(updated)
			return &r, nil
		},
	},
}

func lookupTable(t Table) (*tableDef, error) {
	d, ok := tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}
	return d, nil
}

// nullable maps the empty string onto SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// JSON columns are bound as text: lib/pq sends []byte as bytea, which
// jsonb refuses.
func jsonRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func jsonList(list []string) any {
	if list == nil {
		return nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(b)
}

func decodeList(s sql.NullString, dst *[]string) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}
