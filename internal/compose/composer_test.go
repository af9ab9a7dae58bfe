package compose

import (
	"strings"
	"testing"
	"unicode/utf8"

	"safetynotify/internal/channel"
	"safetynotify/internal/event"
)

func TestRenderMissingVariablesRenderEmpty(t *testing.T) {
	t.Parallel()
	c := New()
	body := c.Render(Input{
		Template: "Incident {{title}} at {{site}} ({{nope}})",
		Vars:     map[string]string{"title": "Spill"},
		Language: "en",
		Channel:  channel.Push,
	})
	if strings.Contains(body, "{{") || strings.Contains(body, "nope") {
		t.Fatalf("unresolved placeholder in %q", body)
	}
	if !strings.Contains(body, "Spill") {
		t.Fatalf("variable not rendered: %q", body)
	}
}

func TestRenderLanguageFallback(t *testing.T) {
	t.Parallel()
	c := New()
	tests := []struct {
		lang string
		want string // substring expected in the rendered body
	}{
		{"id", "Insiden"},
		{"id-ID", "Insiden"},
		{"es", "Incidente"},
		{"", "Incident at"},        // unset -> default language
		{"zz", "Incident at"},      // unparseable -> default language
		{"pt", "Incident at"},      // unsupported -> deterministic default
		{"fr-CA", "Incident à"},    // regional variant matches base
	}
	for _, tt := range tests {
		body := c.Render(Input{
			Key:      "incident_created",
			Vars:     map[string]string{"title": "x", "site": "Plant 1", "severity": "3"},
			Language: tt.lang,
			Channel:  channel.Push,
		})
		if !strings.Contains(body, tt.want) {
			t.Errorf("lang %q: body %q does not contain %q", tt.lang, body, tt.want)
		}
	}
}

func TestRenderChatTruncatesFreeText(t *testing.T) {
	t.Parallel()
	c := New()
	long := strings.Repeat("very long detail ", 40)
	body := c.Render(Input{
		Key:      "incident_created",
		Vars:     map[string]string{"title": "Spill", "site": "Dock", "severity": "4", "detail": long},
		Language: "en",
		Channel:  channel.WhatsApp,
	})
	if utf8.RuneCountInString(body) > chatBodyLimit {
		t.Fatalf("chat body too long: %d runes", utf8.RuneCountInString(body))
	}
	if !strings.Contains(body, "…") {
		t.Fatalf("expected detail truncation marker in %q", body)
	}
}

func TestRenderEmailRTL(t *testing.T) {
	t.Parallel()
	c := New()
	body := c.Render(Input{
		Key:      "incident_created",
		Vars:     map[string]string{"title": "تسرب", "site": "المصنع", "severity": "4"},
		Language: "ar",
		Channel:  channel.Email,
	})
	if !strings.Contains(body, `dir="rtl"`) {
		t.Fatalf("arabic email body missing rtl container: %q", body)
	}
	// Email bodies lead with the subject line.
	if !strings.HasPrefix(body, "تسرب\n\n") {
		t.Fatalf("email body must lead with subject: %q", body)
	}
}

func TestRenderEmailLTRHasNoRTLWrapper(t *testing.T) {
	t.Parallel()
	c := New()
	body := c.Render(Input{
		Key:      "incident_created",
		Vars:     map[string]string{"title": "Spill", "site": "Dock", "severity": "2"},
		Language: "en",
		Channel:  channel.Email,
	})
	if strings.Contains(body, "rtl") {
		t.Fatalf("unexpected rtl wrapper: %q", body)
	}
}

func TestTemplateKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind  event.Kind
		level int
		want  string
	}{
		{event.KindIncidentCreated, 0, "incident_created"},
		{event.KindIncidentCreated, 2, "incident_created"},
		{event.KindEmergencyAlert, 1, "emergency_alert"},
		{event.KindInvestigationOverdue, 0, "investigation_overdue.warning"},
		{event.KindInvestigationOverdue, 1, "investigation_overdue.escalation"},
		{event.KindInvestigationOverdue, 2, "investigation_overdue.urgent"},
		{event.KindMaintenanceOverdue, 3, "maintenance_overdue.urgent"},
	}
	for _, tt := range tests {
		if got := TemplateKey(tt.kind, tt.level); got != tt.want {
			t.Errorf("TemplateKey(%s, %d) = %q, want %q", tt.kind, tt.level, got, tt.want)
		}
	}
}

func TestCatalogsCoverAllLanguages(t *testing.T) {
	t.Parallel()
	ref := catalogs[langEnglish]
	for lang, m := range catalogs {
		for key := range ref {
			if _, ok := m[key]; !ok {
				t.Errorf("catalog %q missing key %q", lang, key)
			}
		}
	}
}
