package config

// Config is the on-disk shape of the engine's configuration. JSON and
// YAML are both accepted; unknown fields are rejected.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server  ServerConfig  `json:"server,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
	Storage StorageConfig `json:"storage,omitempty"`

	// Redis enables the cross-replica dispatch lock. Omitted means
	// single-replica operation with no external lock.
	Redis *RedisConfig `json:"redis,omitempty"`

	// Nats enables the published-event intake. Omitted means events
	// arrive over HTTP only.
	Nats *NatsConfig `json:"nats,omitempty"`

	Providers  ProvidersConfig  `json:"providers"`
	Dispatch   DispatchConfig   `json:"dispatch,omitempty"`
	Escalation EscalationConfig `json:"escalation,omitempty"`

	// Directory is the recipient roster and the role/channel matrix.
	Directory DirectoryConfig `json:"directory"`
}

type ServerConfig struct {
	Addr         string `json:"addr,omitempty"` // default ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"` // debug|info|warn|error, default info
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite (default) | memory
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type NatsConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject,omitempty"` // default "safety.events.>"
	Queue   string `json:"queue,omitempty"`
}

type ProvidersConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Email    EmailConfig    `json:"email,omitempty"`
	Push     PushConfig     `json:"push,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// WhatsAppConfig selects a vendor. Provider forces one ("waha" or
// "twilio"); when empty the router probes credentials, WAHA first.
type WhatsAppConfig struct {
	Provider string `json:"provider,omitempty"`

	WAHA struct {
		BaseURL            string `json:"base_url"`
		Session            string `json:"session,omitempty"`
		APIKey             string `json:"api_key,omitempty"`
		DefaultCountryCode string `json:"default_country_code,omitempty"`
		Timeout            string `json:"timeout,omitempty"`
	} `json:"waha,omitempty"`

	Twilio struct {
		AccountSID         string `json:"account_sid"`
		AuthToken          string `json:"auth_token"`
		FromNumber         string `json:"from_number"`
		DefaultCountryCode string `json:"default_country_code,omitempty"`
		Timeout            string `json:"timeout,omitempty"`
	} `json:"twilio,omitempty"`
}

type EmailConfig struct {
	Provider string `json:"provider,omitempty"`

	Resend struct {
		APIKey  string `json:"api_key"`
		From    string `json:"from"`
		Timeout string `json:"timeout,omitempty"`
	} `json:"resend,omitempty"`
}

type PushConfig struct {
	GatewayURL string `json:"gateway_url"`
	APIKey     string `json:"api_key,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

// DispatchConfig tunes the coordinator. RatePerSec is applied per
// provider; SendTimeout defaults to "10s", AttachmentDelay to "500ms"
// and LockTTL to "30s".
type DispatchConfig struct {
	SendTimeout     string `json:"send_timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	AttachmentDelay string `json:"attachment_delay,omitempty"`
	LockTTL         string `json:"lock_ttl,omitempty"`
}

type EscalationConfig struct {
	Schedule     string `json:"schedule,omitempty"` // 5-field cron, default "*/15 * * * *"
	SweepTimeout string `json:"sweep_timeout,omitempty"`

	// Policies keys SLA rows by severity label (negligible..critical);
	// "default" covers the rest.
	Policies map[string]SLAConfig `json:"policies,omitempty"`
}

type SLAConfig struct {
	TargetDays                int `json:"target_days"`
	WarningDaysBefore         int `json:"warning_days_before"`
	EscalationDaysAfter       int `json:"escalation_days_after"`
	SecondEscalationDaysAfter int `json:"second_escalation_days_after,omitempty"`
}

type DirectoryConfig struct {
	// Matrix maps roles to channels per severity floor. An empty matrix
	// falls back to notifying admins and managers by email and push.
	Matrix []MatrixRuleConfig `json:"matrix,omitempty"`

	People []PersonConfig `json:"people"`
}

type MatrixRuleConfig struct {
	Role        string   `json:"role"`
	Channels    []string `json:"channels"`
	MinSeverity string   `json:"min_severity,omitempty"`
}

type PersonConfig struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	PushToken      string   `json:"push_token,omitempty"`
	TelegramChatID string   `json:"telegram_chat_id,omitempty"`
	Language       string   `json:"language,omitempty"`
	Roles          []string `json:"roles"`
}
