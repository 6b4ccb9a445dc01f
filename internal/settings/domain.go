// Package settings stores integration configuration edited from the console.
package settings

import (
	"encoding/json"
	"time"

	"github.com/danmu-hub/console/internal/permissions"
)

// Mask replaces secret values for readers who may not edit them. Posting the
// mask back keeps the stored secret.
const Mask = "********"

// TMDB configures The Movie Database lookups.
type TMDB struct {
	APIKey       string `json:"apiKey" validate:"max=128"`
	APIBaseURL   string `json:"apiBaseUrl" validate:"omitempty,url,max=255"`
	ImageBaseURL string `json:"imageBaseUrl" validate:"omitempty,url,max=255"`
	Language     string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// TVDB configures TheTVDB lookups.
type TVDB struct {
	APIKey string `json:"apiKey" validate:"max=128"`
	PIN    string `json:"pin" validate:"max=64"`
}

// Bangumi configures bgm.tv lookups.
type Bangumi struct {
	ClientID     string `json:"clientId" validate:"max=128"`
	ClientSecret string `json:"clientSecret" validate:"max=128"`
	AccessToken  string `json:"accessToken" validate:"max=512"`
}

// Douban configures douban lookups.
type Douban struct {
	Cookie string `json:"cookie" validate:"max=4096"`
}

// Proxy routes outbound scraper traffic.
type Proxy struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url" validate:"required_if=Enabled true,omitempty,url,max=255"`
	SSLVerify bool   `json:"sslVerify"`
}

// Webhook accepts media-server notifications.
type Webhook struct {
	Enabled      bool   `json:"enabled"`
	APIKey       string `json:"apiKey" validate:"max=128"`
	DelaySeconds int    `json:"delaySeconds" validate:"min=0,max=3600"`
}

// TrustedProxies lists the reverse proxies whose forwarded headers are honoured.
type TrustedProxies struct {
	Entries []string `json:"entries" validate:"max=64,dive,ip|cidr"`
}

// CustomDomain overrides the public base URL of generated links.
type CustomDomain struct {
	BaseURL string `json:"baseUrl" validate:"omitempty,url,max=255"`
}

// UAFilter restricts which user agents may call the token gate.
type UAFilter struct {
	Mode  string   `json:"mode" validate:"oneof=off blacklist whitelist"`
	Rules []string `json:"rules" validate:"max=200,dive,required,max=200"`
}

// Integration describes one configurable integration.
type Integration struct {
	Name       string
	Permission string
	Secrets    []string
	newValue   func() any
}

var integrations = []Integration{
	{Name: "tmdb", Permission: permissions.EditTmdb, Secrets: []string{"apiKey"}, newValue: func() any { return &TMDB{} }},
	{Name: "tvdb", Permission: permissions.EditTvdb, Secrets: []string{"apiKey", "pin"}, newValue: func() any { return &TVDB{} }},
	{Name: "bangumi", Permission: permissions.EditBangumi, Secrets: []string{"clientSecret", "accessToken"}, newValue: func() any { return &Bangumi{} }},
	{Name: "douban", Permission: permissions.EditDouban, Secrets: []string{"cookie"}, newValue: func() any { return &Douban{} }},
	{Name: "proxy", Permission: permissions.EditProxy, newValue: func() any { return &Proxy{SSLVerify: true} }},
	{Name: "webhook", Permission: permissions.EditWebhook, Secrets: []string{"apiKey"}, newValue: func() any { return &Webhook{} }},
	{Name: "trustedProxies", Permission: permissions.EditTrustedProxies, newValue: func() any { return &TrustedProxies{Entries: []string{}} }},
	{Name: "customDomain", Permission: permissions.EditCustomDomain, newValue: func() any { return &CustomDomain{} }},
	{Name: "uaFilter", Permission: permissions.EditUaFilter, newValue: func() any { return &UAFilter{Mode: "off", Rules: []string{}} }},
}

var byName = func() map[string]Integration {
	m := make(map[string]Integration, len(integrations))
	for _, in := range integrations {
		m[in.Name] = in
	}
	return m
}()

// Integrations returns every integration in display order.
func Integrations() []Integration {
	out := make([]Integration, len(integrations))
	copy(out, integrations)
	return out
}

// Lookup returns the integration registered under name.
func Lookup(name string) (Integration, bool) {
	in, ok := byName[name]
	return in, ok
}

// Default returns the value of an integration that was never saved.
func (i Integration) Default() map[string]any {
	raw, _ := json.Marshal(i.newValue())
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func (i Integration) isSecret(field string) bool {
	for _, s := range i.Secrets {
		if s == field {
			return true
		}
	}
	return false
}

// Entry is an integration value as returned to the console.
type Entry struct {
	Name      string         `json:"name"`
	Value     map[string]any `json:"value"`
	Editable  bool           `json:"editable"`
	UpdatedBy *int64         `json:"updatedBy,omitempty"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// Summary is one row of the integrations overview.
type Summary struct {
	Name       string `json:"name"`
	Permission string `json:"permission"`
	Editable   bool   `json:"editable"`
	Configured bool   `json:"configured"`
}

// Stored is a persisted integration row.
type Stored struct {
	Name      string
	Value     json.RawMessage
	UpdatedBy *int64
	UpdatedAt time.Time
}
