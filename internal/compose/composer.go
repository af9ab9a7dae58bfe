// Package compose renders channel-appropriate, localized notification
// bodies. Rendering is pure and never fails: missing variables render
// empty, unsupported languages fall back deterministically.
package compose

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"safetynotify/internal/channel"
	"safetynotify/internal/event"
)

// chatDetailLimit bounds free-text fields on chat channels; chat alerts
// are glanceable summaries, the full detail lives in the dashboard.
const chatDetailLimit = 160

// chatBodyLimit is a hard cap on the whole chat body.
const chatBodyLimit = 1024

type Input struct {
	// Template is an explicit template; when empty, Key selects a
	// catalog message.
	Template string
	Key      string
	Vars     map[string]string
	Language string
	Channel  channel.Channel
}

type Composer struct {
	matcher language.Matcher
	// codes maps matcher indices back onto catalog language codes,
	// in the same order the matcher was built.
	codes []string
}

func New() *Composer {
	codes := []string{langEnglish, langIndonesian, langSpanish, langFrench, langArabic}
	tags := make([]language.Tag, len(codes))
	for i, c := range codes {
		tags[i] = language.MustParse(c)
	}
	return &Composer{matcher: language.NewMatcher(tags), codes: codes}
}

// Render produces the final body for one (template, vars, language,
// channel) tuple.
func (c *Composer) Render(in Input) string {
	lang := c.matchLanguage(in.Language)

	tmpl := in.Template
	if tmpl == "" {
		tmpl = c.lookup(lang, in.Key)
	}

	vars := in.Vars
	if in.Channel.IsChat() {
		vars = boundFreeText(vars)
	}

	body := interpolate(tmpl, vars)
	body = strings.TrimSpace(strings.Join(strings.Fields(body), " "))

	switch {
	case in.Channel == channel.Email:
		return emailBody(body, vars, rtlLangs[lang])
	case in.Channel.IsChat():
		return truncateRunes(body, chatBodyLimit)
	default:
		return body
	}
}

// TemplateKey maps an event kind and escalation level onto a catalog key.
func TemplateKey(kind event.Kind, level int) string {
	switch kind {
	case event.KindInvestigationOverdue, event.KindMaintenanceOverdue:
		suffix := "warning"
		switch {
		case level >= 2:
			suffix = "urgent"
		case level == 1:
			suffix = "escalation"
		}
		return string(kind) + "." + suffix
	default:
		return string(kind)
	}
}

func (c *Composer) matchLanguage(pref string) string {
	pref = strings.TrimSpace(pref)
	if pref == "" {
		return langEnglish
	}
	tag, err := language.Parse(pref)
	if err != nil {
		return langEnglish
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No || idx < 0 || idx >= len(c.codes) {
		return langEnglish
	}
	return c.codes[idx]
}

func (c *Composer) lookup(lang, key string) string {
	if m, ok := catalogs[lang]; ok {
		if t, ok := m[key]; ok {
			return t
		}
	}
	if t, ok := catalogs[langEnglish][key]; ok {
		return t
	}
	// Unknown key: fall back to the bare title so the alert still says
	// something rather than nothing.
	return "{{title}}"
}

// interpolate replaces {{name}} placeholders. Missing variables render
// as empty string; rendering never fails.
func interpolate(tmpl string, vars map[string]string) string {
	var b strings.Builder
	rest := tmpl
	for {
		i := strings.Index(rest, "{{")
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		j := strings.Index(rest[i:], "}}")
		if j < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:i])
		name := strings.TrimSpace(rest[i+2 : i+j])
		if vars != nil {
			b.WriteString(vars[name])
		}
		rest = rest[i+j+2:]
	}
}

func boundFreeText(vars map[string]string) map[string]string {
	if vars == nil {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		switch k {
		case "detail", "title":
			out[k] = truncateRunes(v, chatDetailLimit)
		default:
			out[k] = v
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

// emailBody produces "subject\n\nhtml" as the email adapters expect,
// with a dir="rtl" wrapper for right-to-left catalogs.
func emailBody(body string, vars map[string]string, rtl bool) string {
	subject := strings.TrimSpace(vars["title"])
	if subject == "" {
		subject = firstSentence(body)
	}

	dir := ""
	if rtl {
		dir = ` dir="rtl"`
	}
	htmlBody := fmt.Sprintf("<div%s><p>%s</p></div>", dir, html.EscapeString(body))
	return subject + "\n\n" + htmlBody
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!"); i > 0 {
		return s[:i]
	}
	return truncateRunes(s, 80)
}
