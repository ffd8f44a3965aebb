package store

import (
	"encoding/json"
	"time"
)

// Table identifies one entity table.
type Table string

const (
	TableUsers                Table = "users"
	TablePrefsSafes           Table = "prefs_safes"
	TablePrefsSafesKeys       Table = "prefs_safes_keys"
	TableCloudSafeCredentials Table = "cloud_safe_credentials"
	TableClients              Table = "app_installation_clients"
	TableClientCredentials    Table = "client_credentials"
	TableAuthorizations       Table = "app_installation_authorizations"
	TableSsoProviders         Table = "app_sso_providers"
	TableSsoAccounts          Table = "sso_accounts"
	TableSsoAccessTokens      Table = "sso_access_tokens"
)

// Declared record types.
const (
	TypeUser                = "user"
	TypePrefsSafe           = "prefsSafe"
	TypePrefsSafesKey       = "prefsSafesKey"
	TypeCloudSafeCredential = "cloudSafeCredential"
	TypeClient              = "appInstallationClient"
	TypeClientCredential    = "clientCredential"
	TypeAuthorization       = "appInstallationAuthorization"
	TypeSsoProvider         = "appSsoProvider"
	TypeSsoAccount          = "ssoAccount"
	TypeSsoAccessToken      = "ssoAccessToken"
)

// SafeType is the kind of a prefs safe.
type SafeType string

const (
	SafeTypeSnapset SafeType = "snapset"
	SafeTypeUser    SafeType = "user"
)

// AccessType describes who may use an app installation client.
type AccessType string

const (
	AccessTypePublic                 AccessType = "public"
	AccessTypePrivate                AccessType = "private"
	AccessTypeSharedByTrustedParties AccessType = "sharedByTrustedParties"
)

// Record is implemented by every persisted entity.
type Record interface {
	RecordID() string
	DocType() string
	table() Table
	clone() Record
	setType(string)
}

// User is a local account, created on first local or SSO authentication.
type User struct {
	ID               string
	Type             string
	Name             string
	Username         string
	DerivedKey       string
	Salt             string
	Iterations       int
	VerificationCode string
	Verified         bool
	Roles            []string
	TimestampCreated time.Time
}

// PrefsSafe holds a preferences payload.
type PrefsSafe struct {
	ID               string
	Type             string
	SafeType         SafeType
	Name             string
	Email            string
	Password         string
	Preferences      json.RawMessage
	TimestampCreated time.Time
	TimestampUpdated *time.Time
}

// PrefsSafesKey is the short external code that resolves to a prefs safe.
type PrefsSafesKey struct {
	ID               string
	Type             string
	PrefsSafeID      string
	Revoked          bool
	RevokedReason    string
	TimestampCreated time.Time
	TimestampRevoked *time.Time
}

// CloudSafeCredential bridges a user to a prefs safe.
type CloudSafeCredential struct {
	ID          string
	Type        string
	UserID      string
	PrefsSafeID string
}

// Client is a registered app installation client.
type Client struct {
	ID               string
	Type             string
	Name             string
	UserID           string
	AccessType       AccessType
	TimestampCreated time.Time
	TimestampRevoked *time.Time
}

// Revoked reports whether the client was revoked.
func (c *Client) Revoked() bool { return c.TimestampRevoked != nil }

// ClientCredential is the OAuth2 id/secret pair of a client together with
// its privilege flags.
type ClientCredential struct {
	ID                       string
	Type                     string
	ClientID                 string
	OAuth2ClientID           string
	OAuth2ClientSecret       string
	IsCreateGpiiKeyAllowed   bool
	IsCreatePrefsSafeAllowed bool
	AllowedIPBlocks          []string
	Revoked                  bool
	RevokedReason            string
	TimestampCreated         time.Time
	TimestampRevoked         *time.Time
}

// Authorization is an issued access token grant (app installation authorization).
type Authorization struct {
	ID                 string
	Type               string
	ClientID           string
	UserID             string
	PrefsSafesKey      string
	ClientCredentialID string
	AccessToken        string
	Revoked            bool
	RevokedReason      string
	TimestampCreated   time.Time
	TimestampRevoked   *time.Time
	TimestampExpires   time.Time
}

// SsoProvider maps a provider name to this app's client id/secret there.
type SsoProvider struct {
	ID               string
	Type             string
	Provider         string
	ClientID         string
	ClientSecret     string
	Revoked          bool
	TimestampCreated time.Time
}

// SsoAccount links a user to an external identity.
type SsoAccount struct {
	ID               string
	Type             string
	UserID           string
	Provider         string
	ProviderUserID   string
	UserInfo         json.RawMessage
	TimestampCreated time.Time
	TimestampUpdated *time.Time
}

// SsoAccessToken stores the provider token pair for an SSO account and the
// locally issued login token.
type SsoAccessToken struct {
	ID               string
	Type             string
	SsoAccountID     string
	Provider         string
	AccessToken      string
	RefreshToken     string
	LoginToken       string
	ExpiresAt        time.Time
	Revoked          bool
	TimestampCreated time.Time
	TimestampUpdated *time.Time
}

func (r *User) RecordID() string { return r.ID }
func (r *PrefsSafe) RecordID() string { return r.ID }
func (r *PrefsSafesKey) RecordID() string { return r.ID }
func (r *CloudSafeCredential) RecordID() string { return r.ID }
func (r *Client) RecordID() string { return r.ID }
func (r *ClientCredential) RecordID() string { return r.ID }
func (r *Authorization) RecordID() string { return r.ID }
func (r *SsoProvider) RecordID() string { return r.ID }
func (r *SsoAccount) RecordID() string { return r.ID }
func (r *SsoAccessToken) RecordID() string { return r.ID }

func (r *User) DocType() string { return r.Type }
func (r *PrefsSafe) DocType() string { return r.Type }
func (r *PrefsSafesKey) DocType() string { return r.Type }
func (r *CloudSafeCredential) DocType() string { return r.Type }
func (r *Client) DocType() string { return r.Type }
func (r *ClientCredential) DocType() string { return r.Type }
func (r *Authorization) DocType() string { return r.Type }
func (r *SsoProvider) DocType() string { return r.Type }
func (r *SsoAccount) DocType() string { return r.Type }
func (r *SsoAccessToken) DocType() string { return r.Type }

func (r *User) setType(t string) { r.Type = t }
func (r *PrefsSafe) setType(t string) { r.Type = t }
func (r *PrefsSafesKey) setType(t string) { r.Type = t }
func (r *CloudSafeCredential) setType(t string) { r.Type = t }
func (r *Client) setType(t string) { r.Type = t }
func (r *ClientCredential) setType(t string) { r.Type = t }
func (r *Authorization) setType(t string) { r.Type = t }
func (r *SsoProvider) setType(t string) { r.Type = t }
func (r *SsoAccount) setType(t string) { r.Type = t }
func (r *SsoAccessToken) setType(t string) { r.Type = t }

func (*User) table() Table { return TableUsers }
func (*PrefsSafe) table() Table { return TablePrefsSafes }
func (*PrefsSafesKey) table() Table { return TablePrefsSafesKeys }
func (*CloudSafeCredential) table() Table { return TableCloudSafeCredentials }
func (*Client) table() Table { return TableClients }
func (*ClientCredential) table() Table { return TableClientCredentials }
func (*Authorization) table() Table { return TableAuthorizations }
func (*SsoProvider) table() Table { return TableSsoProviders }
func (*SsoAccount) table() Table { return TableSsoAccounts }
func (*SsoAccessToken) table() Table { return TableSsoAccessTokens }

func (r *User) clone() Record { c := *r; return &c }
func (r *PrefsSafe) clone() Record { c := *r; return &c }
func (r *PrefsSafesKey) clone() Record { c := *r; return &c }
func (r *CloudSafeCredential) clone() Record { c := *r; return &c }
func (r *Client) clone() Record { c := *r; return &c }
func (r *ClientCredential) clone() Record { c := *r; return &c }
func (r *Authorization) clone() Record { c := *r; return &c }
func (r *SsoProvider) clone() Record { c := *r; return &c }
func (r *SsoAccount) clone() Record { c := *r; return &c }
func (r *SsoAccessToken) clone() Record { c := *r; return &c }
