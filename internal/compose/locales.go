package compose

// Built-in message catalogs. Keys follow "<event kind>" or
// "<event kind>.<transition>" for SLA notices. Variables render through
// the {{name}} interpolator; a missing variable renders empty.
//
// Translations are intentionally plain: these are operational alerts,
// not marketing copy.

const (
	langEnglish    = "en"
	langIndonesian = "id"
	langSpanish    = "es"
	langFrench     = "fr"
	langArabic     = "ar"
)

// rtlLangs marks catalogs laid out right-to-left (HTML channels wrap the
// body in a dir="rtl" container).
var rtlLangs = map[string]bool{langArabic: true}

var catalogs = map[string]map[string]string{
	langEnglish: {
		"incident_created":                 "Incident at {{site}}: {{title}}. Severity {{severity}}. {{detail}}",
		"emergency_alert":                  "EMERGENCY at {{site}}: {{title}}. Emergency response plan is active. {{detail}}",
		"investigation_overdue.warning":    "Reminder: investigation {{ref}} is due in {{days_left}} day(s).",
		"investigation_overdue.escalation": "Investigation {{ref}} is {{days_overdue}} day(s) overdue. Action required.",
		"investigation_overdue.urgent":     "URGENT: investigation {{ref}} is still {{days_overdue}} day(s) overdue after escalation.",
		"maintenance_overdue.warning":      "Reminder: maintenance {{ref}} is due in {{days_left}} day(s).",
		"maintenance_overdue.escalation":   "Maintenance {{ref}} is {{days_overdue}} day(s) overdue. Action required.",
		"maintenance_overdue.urgent":       "URGENT: maintenance {{ref}} is still {{days_overdue}} day(s) overdue after escalation.",
	},
	langIndonesian: {
		"incident_created":                 "Insiden di {{site}}: {{title}}. Tingkat keparahan {{severity}}. {{detail}}",
		"emergency_alert":                  "DARURAT di {{site}}: {{title}}. Rencana tanggap darurat aktif. {{detail}}",
		"investigation_overdue.warning":    "Pengingat: investigasi {{ref}} jatuh tempo dalam {{days_left}} hari.",
		"investigation_overdue.escalation": "Investigasi {{ref}} terlambat {{days_overdue}} hari. Perlu tindakan.",
		"investigation_overdue.urgent":     "MENDESAK: investigasi {{ref}} masih terlambat {{days_overdue}} hari setelah eskalasi.",
		"maintenance_overdue.warning":      "Pengingat: pemeliharaan {{ref}} jatuh tempo dalam {{days_left}} hari.",
		"maintenance_overdue.escalation":   "Pemeliharaan {{ref}} terlambat {{days_overdue}} hari. Perlu tindakan.",
		"maintenance_overdue.urgent":       "MENDESAK: pemeliharaan {{ref}} masih terlambat {{days_overdue}} hari setelah eskalasi.",
	},
	langSpanish: {
		"incident_created":                 "Incidente en {{site}}: {{title}}. Severidad {{severity}}. {{detail}}",
		"emergency_alert":                  "EMERGENCIA en {{site}}: {{title}}. Plan de respuesta a emergencias activo. {{detail}}",
		"investigation_overdue.warning":    "Recordatorio: la investigación {{ref}} vence en {{days_left}} día(s).",
		"investigation_overdue.escalation": "La investigación {{ref}} lleva {{days_overdue}} día(s) de retraso. Se requiere acción.",
		"investigation_overdue.urgent":     "URGENTE: la investigación {{ref}} sigue con {{days_overdue}} día(s) de retraso tras la escalada.",
		"maintenance_overdue.warning":      "Recordatorio: el mantenimiento {{ref}} vence en {{days_left}} día(s).",
		"maintenance_overdue.escalation":   "El mantenimiento {{ref}} lleva {{days_overdue}} día(s) de retraso. Se requiere acción.",
		"maintenance_overdue.urgent":       "URGENTE: el mantenimiento {{ref}} sigue con {{days_overdue}} día(s) de retraso tras la escalada.",
	},
	langFrench: {
		"incident_created":                 "Incident à {{site}} : {{title}}. Gravité {{severity}}. {{detail}}",
		"emergency_alert":                  "URGENCE à {{site}} : {{title}}. Plan d'intervention d'urgence actif. {{detail}}",
		"investigation_overdue.warning":    "Rappel : l'enquête {{ref}} arrive à échéance dans {{days_left}} jour(s).",
		"investigation_overdue.escalation": "L'enquête {{ref}} est en retard de {{days_overdue}} jour(s). Action requise.",
		"investigation_overdue.urgent":     "URGENT : l'enquête {{ref}} reste en retard de {{days_overdue}} jour(s) après escalade.",
		"maintenance_overdue.warning":      "Rappel : la maintenance {{ref}} arrive à échéance dans {{days_left}} jour(s).",
		"maintenance_overdue.escalation":   "La maintenance {{ref}} est en retard de {{days_overdue}} jour(s). Action requise.",
		"maintenance_overdue.urgent":       "URGENT : la maintenance {{ref}} reste en retard de {{days_overdue}} jour(s) après escalade.",
	},
	langArabic: {
		"incident_created":                 "حادث في {{site}}: {{title}}. درجة الخطورة {{severity}}. {{detail}}",
		"emergency_alert":                  "حالة طوارئ في {{site}}: {{title}}. خطة الاستجابة للطوارئ مفعلة. {{detail}}",
		"investigation_overdue.warning":    "تذكير: يستحق التحقيق {{ref}} خلال {{days_left}} يوم/أيام.",
		"investigation_overdue.escalation": "التحقيق {{ref}} متأخر {{days_overdue}} يوم/أيام. مطلوب إجراء.",
		"investigation_overdue.urgent":     "عاجل: لا يزال التحقيق {{ref}} متأخرًا {{days_overdue}} يوم/أيام بعد التصعيد.",
		"maintenance_overdue.warning":      "تذكير: تستحق الصيانة {{ref}} خلال {{days_left}} يوم/أيام.",
		"maintenance_overdue.escalation":   "الصيانة {{ref}} متأخرة {{days_overdue}} يوم/أيام. مطلوب إجراء.",
		"maintenance_overdue.urgent":       "عاجل: لا تزال الصيانة {{ref}} متأخرة {{days_overdue}} يوم/أيام بعد التصعيد.",
	},
}
