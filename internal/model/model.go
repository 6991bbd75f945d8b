// Package model defines the domain types used across the application.
package model

import (
	"math"
	"time"
)

// SessionState is the authentication state of an account.
type SessionState string

// Supported session states.
const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionPending         SessionState = "pending"
	SessionAuthenticated   SessionState = "authenticated"
)

// Session holds the login and token state of a single account.
type Session struct {
	AccountID    string
	State        SessionState
	PollingID    string
	UserID       string
	AccessToken  string
	RefreshToken string
	UpdatedAt    time.Time
}

// IsAuthenticated reports whether the session carries a usable token pair.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.State == SessionAuthenticated && s.AccessToken != "" && s.RefreshToken != ""
}

// Price is an amount in minor units with its currency precision.
type Price struct {
	MinorUnits int64
	Decimals   int
	Currency   string
}

// Major returns the price in major units.
func (p Price) Major() float64 {
	return float64(p.MinorUnits) / math.Pow10(p.Decimals)
}

// PickupInterval is the window in which an item can be collected.
type PickupInterval struct {
	Start time.Time
	End   time.Time
}

// Item is one favorite business item at a point in time.
type Item struct {
	ID          string
	DisplayName string
	Price       Price
	Available   int
	Pickup      *PickupInterval
}

// Snapshot is the ordered list of items returned by one fetch.
type Snapshot []Item

// ByID indexes the snapshot by item id. Later duplicates win.
func (s Snapshot) ByID() map[string]Item {
	m := make(map[string]Item, len(s))
	for _, it := range s {
		m[it.ID] = it
	}
	return m
}

// MessageFilter selects which stock transitions produce a notification.
type MessageFilter struct {
	ShowUnchanged        bool `yaml:"showUnchanged" json:"showUnchanged"`
	ShowDecrease         bool `yaml:"showDecrease" json:"showDecrease"`
	ShowDecreaseToZero   bool `yaml:"showDecreaseToZero" json:"showDecreaseToZero"`
	ShowIncrease         bool `yaml:"showIncrease" json:"showIncrease"`
	ShowIncreaseFromZero bool `yaml:"showIncreaseFromZero" json:"showIncreaseFromZero"`
}

// Origin is the location favorites are searched around.
type Origin struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	Timezone  string  `yaml:"timezone" json:"timezone"`
}

// Location returns the configured time zone, or time.Local when unset or unknown.
func (o Origin) Location() *time.Location {
	if o.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Intervals are the per-account timer overrides in milliseconds.
type Intervals struct {
	AuthenticationMs int64 `yaml:"authenticationIntervalInMs" json:"authenticationIntervalInMs"`
	PollingMs        int64 `yaml:"pollingIntervalInMs" json:"pollingIntervalInMs"`
}

// ConsoleConfig configures stdout notifications.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Clear   bool `yaml:"clear" json:"clear"`
}

// DesktopConfig configures desktop notifications.
type DesktopConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// TelegramConfig configures the telegram bot of an account.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BotToken string `yaml:"botToken" json:"botToken"`
}

// IFTTTConfig configures IFTTT webhook notifications.
type IFTTTConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	WebhookKey    string   `yaml:"webhookKey" json:"webhookKey"`
	WebhookEvents []string `yaml:"webhookEvents,omitempty" json:"webhookEvents,omitempty"`
}

// GotifyConfig configures Gotify push notifications.
type GotifyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	URL      string `yaml:"url" json:"url"`
	AppToken string `yaml:"apptoken" json:"apptoken"`
	Priority int    `yaml:"priority" json:"priority"`
}

// NtfyConfig configures ntfy push notifications.
type NtfyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	URL      string `yaml:"url" json:"url"`
	Topic    string `yaml:"topic" json:"topic"`
	Priority int    `yaml:"priority" json:"priority"`
}

// EmailConfig configures SMTP notifications.
type EmailConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	SMTPHost     string `yaml:"smtpHost" json:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort" json:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername" json:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword" json:"smtpPassword"`
	SMTPEmail    string `yaml:"smtpEmail" json:"smtpEmail"`
	Recipient    string `yaml:"recipient" json:"recipient"`
}

// Notifications groups the channel configurations of an account.
type Notifications struct {
	Console  ConsoleConfig  `yaml:"console" json:"console"`
	Desktop  DesktopConfig  `yaml:"desktop" json:"desktop"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	IFTTT    IFTTTConfig    `yaml:"ifttt" json:"ifttt"`
	Gotify   GotifyConfig   `yaml:"gotify" json:"gotify"`
	Ntfy     NtfyConfig     `yaml:"ntfy" json:"ntfy"`
	Email    EmailConfig    `yaml:"email" json:"email"`
}

// Account is one watched user account.
type Account struct {
	ID            string        `yaml:"-" json:"-"`
	Email         string        `yaml:"email" json:"email"`
	DeviceType    string        `yaml:"deviceType" json:"deviceType"`
	Origin        Origin        `yaml:"origin" json:"origin"`
	API           Intervals     `yaml:"api" json:"api"`
	MessageFilter MessageFilter `yaml:"messageFilter" json:"messageFilter"`
	Notifications Notifications `yaml:"notifications" json:"notifications"`
}

// Chat is a telegram chat subscribed to an account's notifications.
type Chat struct {
	AccountID string
	ChatID    int64
	FirstName string
	LastName  string
	CreatedAt time.Time
}
