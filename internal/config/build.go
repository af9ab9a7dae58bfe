package config

import (
	"fmt"
	"sort"

	"safetynotify/internal/channel"
	"safetynotify/internal/channel/push"
	"safetynotify/internal/channel/resend"
	"safetynotify/internal/channel/telegram"
	"safetynotify/internal/channel/twilio"
	"safetynotify/internal/channel/waha"
	"safetynotify/internal/dispatch"
	"safetynotify/internal/escalate"
	"safetynotify/internal/event"
	"safetynotify/internal/httpapi"
	"safetynotify/internal/recipient"
	"safetynotify/internal/storage"
	"safetynotify/internal/trigger"
	"safetynotify/pkg/logx"
)

// Validate materializes every section once, surfacing bad durations,
// unknown roles and malformed cron specs before anything is wired.
func (c *Config) Validate() error {
	if _, err := c.Server.Build(); err != nil {
		return err
	}
	if _, err := c.Storage.Build(); err != nil {
		return err
	}
	if _, err := c.Providers.Build(); err != nil {
		return err
	}
	if _, err := c.Dispatch.Build(); err != nil {
		return err
	}
	if _, err := c.Escalation.Build(); err != nil {
		return err
	}
	if _, _, err := c.Directory.Build(); err != nil {
		return err
	}
	return nil
}

func (c ServerConfig) Build() (httpapi.Config, error) {
	rt, err := parseDuration("server.read_timeout", c.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := parseDuration("server.write_timeout", c.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{Addr: c.Addr, ReadTimeout: rt, WriteTimeout: wt}, nil
}

func (c LoggingConfig) Build() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func (c StorageConfig) Build() (storage.Config, error) {
	bt, err := parseDuration("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: bt}, nil
}

func (c RedisConfig) Build() storage.RedisConfig {
	return storage.RedisConfig{Addr: c.Addr, Password: c.Password, DB: c.DB, Prefix: c.Prefix}
}

func (c NatsConfig) Build() trigger.NatsConfig {
	return trigger.NatsConfig{URL: c.URL, Subject: c.Subject, Queue: c.Queue}
}

func (c ProvidersConfig) Build() (channel.Providers, error) {
	wahaTimeout, err := parseDuration("providers.whatsapp.waha.timeout", c.WhatsApp.WAHA.Timeout)
	if err != nil {
		return channel.Providers{}, err
	}
	twilioTimeout, err := parseDuration("providers.whatsapp.twilio.timeout", c.WhatsApp.Twilio.Timeout)
	if err != nil {
		return channel.Providers{}, err
	}
	resendTimeout, err := parseDuration("providers.email.resend.timeout", c.Email.Resend.Timeout)
	if err != nil {
		return channel.Providers{}, err
	}
	pushTimeout, err := parseDuration("providers.push.timeout", c.Push.Timeout)
	if err != nil {
		return channel.Providers{}, err
	}

	return channel.Providers{
		WhatsApp: channel.WhatsAppProviders{
			Provider: c.WhatsApp.Provider,
			WAHA: waha.Config{
				BaseURL:            c.WhatsApp.WAHA.BaseURL,
				Session:            c.WhatsApp.WAHA.Session,
				APIKey:             c.WhatsApp.WAHA.APIKey,
				DefaultCountryCode: c.WhatsApp.WAHA.DefaultCountryCode,
				Timeout:            wahaTimeout,
			},
			Twilio: twilio.Config{
				AccountSID:         c.WhatsApp.Twilio.AccountSID,
				AuthToken:          c.WhatsApp.Twilio.AuthToken,
				FromNumber:         c.WhatsApp.Twilio.FromNumber,
				DefaultCountryCode: c.WhatsApp.Twilio.DefaultCountryCode,
				Timeout:            twilioTimeout,
			},
		},
		Email: channel.EmailProviders{
			Provider: c.Email.Provider,
			Resend: resend.Config{
				APIKey:  c.Email.Resend.APIKey,
				From:    c.Email.Resend.From,
				Timeout: resendTimeout,
			},
		},
		Push: push.Config{
			GatewayURL: c.Push.GatewayURL,
			APIKey:     c.Push.APIKey,
			Timeout:    pushTimeout,
		},
		Telegram: telegram.Config{Token: c.Telegram.Token},
	}, nil
}

func (c DispatchConfig) Build() (dispatch.Config, error) {
	st, err := parseDuration("dispatch.send_timeout", c.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	ad, err := parseDuration("dispatch.attachment_delay", c.AttachmentDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	ttl, err := parseDuration("dispatch.lock_ttl", c.LockTTL)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		SendTimeout:     st,
		RatePerSec:      c.RatePerSec,
		AttachmentDelay: ad,
		LockTTL:         ttl,
	}, nil
}

func (c EscalationConfig) Build() (escalate.Config, error) {
	st, err := parseDuration("escalation.sweep_timeout", c.SweepTimeout)
	if err != nil {
		return escalate.Config{}, err
	}
	out := escalate.Config{Schedule: c.Schedule, SweepTimeout: st}

	keys := make([]string, 0, len(c.Policies))
	for k := range c.Policies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, label := range keys {
		row := c.Policies[label]
		sla := escalate.SLA{
			TargetDays:                row.TargetDays,
			WarningDaysBefore:         row.WarningDaysBefore,
			EscalationDaysAfter:       row.EscalationDaysAfter,
			SecondEscalationDaysAfter: row.SecondEscalationDaysAfter,
		}
		if row.TargetDays <= 0 {
			return escalate.Config{}, fmt.Errorf("escalation.policies.%s: target_days must be > 0", label)
		}
		if label == "default" {
			out.Default = sla
			continue
		}
		sev, ok := severityLabel(label)
		if !ok {
			return escalate.Config{}, fmt.Errorf("escalation.policies: unknown severity %q", label)
		}
		if out.Policies == nil {
			out.Policies = map[event.Severity]escalate.SLA{}
		}
		out.Policies[sev] = sla
	}
	return out, nil
}

// severityLabel is stricter than event.ParseSeverity: config typos must
// fail loudly instead of silently becoming "medium".
func severityLabel(label string) (event.Severity, bool) {
	for s := event.SeverityNegligible; s <= event.SeverityCritical; s++ {
		if s.String() == label {
			return s, true
		}
	}
	return 0, false
}

// Build converts the directory section into the resolver's rule and
// roster form.
func (c DirectoryConfig) Build() ([]recipient.MatrixRule, []recipient.Recipient, error) {
	rules := make([]recipient.MatrixRule, 0, len(c.Matrix))
	for i, raw := range c.Matrix {
		role, ok := parseRole(raw.Role)
		if !ok {
			return nil, nil, fmt.Errorf("directory.matrix[%d]: unknown role %q", i, raw.Role)
		}
		if len(raw.Channels) == 0 {
			return nil, nil, fmt.Errorf("directory.matrix[%d]: channels must not be empty", i)
		}
		rule := recipient.MatrixRule{Role: role}
		for _, chName := range raw.Channels {
			ch := channel.Channel(chName)
			if !ch.Valid() {
				return nil, nil, fmt.Errorf("directory.matrix[%d]: unknown channel %q", i, chName)
			}
			rule.Channels = append(rule.Channels, ch)
		}
		if raw.MinSeverity != "" {
			sev, ok := severityLabel(raw.MinSeverity)
			if !ok {
				return nil, nil, fmt.Errorf("directory.matrix[%d]: unknown severity %q", i, raw.MinSeverity)
			}
			rule.MinSeverity = sev
		}
		rules = append(rules, rule)
	}

	people := make([]recipient.Recipient, 0, len(c.People))
	seen := map[string]bool{}
	for i, raw := range c.People {
		if raw.ID == "" {
			return nil, nil, fmt.Errorf("directory.people[%d]: id is required", i)
		}
		if seen[raw.ID] {
			return nil, nil, fmt.Errorf("directory.people[%d]: duplicate id %q", i, raw.ID)
		}
		seen[raw.ID] = true
		rec := recipient.Recipient{
			ID:             raw.ID,
			Name:           raw.Name,
			Phone:          raw.Phone,
			Email:          raw.Email,
			PushToken:      raw.PushToken,
			TelegramChatID: raw.TelegramChatID,
			Language:       raw.Language,
		}
		for _, roleName := range raw.Roles {
			role, ok := parseRole(roleName)
			if !ok {
				return nil, nil, fmt.Errorf("directory.people[%d]: unknown role %q", i, roleName)
			}
			rec.Roles = append(rec.Roles, role)
		}
		people = append(people, rec)
	}
	return rules, people, nil
}

func parseRole(name string) (recipient.Role, bool) {
	switch r := recipient.Role(name); r {
	case recipient.RoleFirstAider, recipient.RoleSupervisor, recipient.RoleManager,
		recipient.RoleSafetyOfficer, recipient.RoleAdmin:
		return r, true
	}
	return "", false
}
