package tools

import "github.com/wapilot/wapilot/llm"

// Canonical tool names.
const (
	NameUpdateUserInfo        = "update_user_info"
	NameSearchKnowledge       = "search_knowledge"
	NameQueryProducts         = "query_products"
	NameCheckAvailability     = "check_availability"
	NameBookAppointment       = "book_appointment"
	NameGetMyAppointments     = "get_my_appointments"
	NameCancelAppointment     = "cancel_appointment"
	NameRescheduleAppointment = "reschedule_appointment"
	NameSendMedia             = "send_media"
	NameSearchMedia           = "search_media"
	NameOptOutConversation    = "opt_out_conversation"
)

// baseTools is the catalog exposed to every conversation. Descriptions are
// in Hebrew, the platform's working language.
var baseTools = []llm.ToolDef{
	{
		Name:        NameUpdateUserInfo,
		Description: "עדכן מידע על המשתמש כשאתה לומד פרטים חדשים עליו.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":          map[string]any{"type": "string", "description": "שם המשתמש"},
				"gender":        map[string]any{"type": "string", "enum": []string{"male", "female"}, "description": "מגדר"},
				"business_type": map[string]any{"type": "string", "description": "תחום העסק"},
				"notes":         map[string]any{"type": "string", "description": "הערות חשובות"},
			},
		},
	},
	{
		Name:        NameSearchKnowledge,
		Description: "חפש מידע במאגר המסמכים והידע העסקי.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "שאילתת החיפוש"},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        NameQueryProducts,
		Description: "חפש מוצר או בצע שאילתה על טבלת מוצרים/שירותים.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"search": map[string]any{"type": "string", "description": "טקסט חיפוש חופשי"},
				"filters": map[string]any{
					"type":        "object",
					"description": `פילטרים - למשל {"price": {"op": "lt", "value": 100}}`,
				},
			},
		},
	},
	{
		Name:        NameCheckAvailability,
		Description: "בדוק זמנים פנויים ביומן לתיאום פגישה.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date":       map[string]any{"type": "string", "description": "תאריך התחלה (YYYY-MM-DD)"},
				"end_date":         map[string]any{"type": "string", "description": "תאריך סיום (YYYY-MM-DD)"},
				"duration_minutes": map[string]any{"type": "integer", "description": "משך הפגישה בדקות (אופציונלי)"},
			},
			"required": []string{"start_date", "end_date"},
		},
	},
	{
		Name:        NameBookAppointment,
		Description: "קבע פגישה בפועל ביומן לאחר שהלקוח אישר. חובה להשתמש בכלי זה כדי לקבוע את הפגישה בפועל!",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"datetime":         map[string]any{"type": "string", "description": "תאריך ושעה (ISO format: YYYY-MM-DDTHH:MM)"},
				"duration_minutes": map[string]any{"type": "integer", "description": "משך הפגישה בדקות (לדוגמה: 30)"},
				"title":            map[string]any{"type": "string", "description": "כותרת הפגישה"},
				"description":      map[string]any{"type": "string", "description": "תיאור/הערות (אופציונלי)"},
			},
			"required": []string{"datetime", "duration_minutes", "title"},
		},
	},
	{
		Name:        NameGetMyAppointments,
		Description: "הצג את הפגישות הקרובות של המשתמש.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        NameCancelAppointment,
		Description: "בטל פגישה קיימת.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"appointment_id": map[string]any{"type": "integer", "description": "מזהה הפגישה לביטול"},
			},
			"required": []string{"appointment_id"},
		},
	},
	{
		Name:        NameRescheduleAppointment,
		Description: "שנה זמן של פגישה קיימת.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"appointment_id":       map[string]any{"type": "integer", "description": "מזהה הפגישה"},
				"new_datetime":         map[string]any{"type": "string", "description": "תאריך ושעה חדשים (ISO format)"},
				"new_duration_minutes": map[string]any{"type": "integer", "description": "משך חדש בדקות (אופציונלי)"},
			},
			"required": []string{"appointment_id", "new_datetime"},
		},
	},
	{
		Name:        NameSendMedia,
		Description: "שלח תמונה, וידאו או קובץ ללקוח. השתמש בכלי זה כשהלקוח מבקש לראות תמונה, דוגמה, קטלוג, מחירון, חוזה, מסמך או כשרלוונטי לשלוח קובץ.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"media_id": map[string]any{"type": "integer", "description": "מזהה המדיה/קובץ לשליחה (מהרשימה שקיבלת)"},
				"caption":  map[string]any{"type": "string", "description": "כיתוב (אופציונלי - אם לא צוין ישתמש בברירת מחדל)"},
			},
			"required": []string{"media_id"},
		},
	},
	{
		Name:        NameSearchMedia,
		Description: "חפש תמונה, וידאו או קובץ במאגר המדיה לפי תיאור. השתמש כשיש הרבה פריטים ואתה צריך למצוא משהו ספציפי.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "תיאור מה אתה מחפש"},
			},
			"required": []string{"query"},
		},
	},
}

// optOutTool is only declared when proactive follow-ups are enabled for the
// agent, so the model can honor "stop messaging me" requests.
var optOutTool = llm.ToolDef{
	Name:        NameOptOutConversation,
	Description: "הסר את הלקוח מרשימת ההודעות היזומות כשהוא מבקש להפסיק לקבל הודעות.",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}

// Catalog returns the tool declarations for an agent.
func Catalog(followupsEnabled bool) []llm.ToolDef {
	defs := make([]llm.ToolDef, len(baseTools))
	copy(defs, baseTools)
	if followupsEnabled {
		defs = append(defs, optOutTool)
	}
	return defs
}

// SystemSuffix is appended to every agent system prompt to steer tool use.
const SystemSuffix = `

---
הנחיות מערכת:
- כשאתה לומד מידע חדש על המשתמש (שם, מגדר, תחום עסק, הערות), השתמש בכלי update_user_info - חובה לעדכן אם זכר/נקבה או לא ידוע לפי השם שלו.
- כשנשאל על מסמכים, הסכמים, קבצים או מידע שלא מופיע ישירות למעלה - חובה להשתמש בכלי search_knowledge.
- כשנשאל על טבלאות, לידים, מוצרים, מחירים, כמויות או נתונים מספריים - חובה להשתמש בכלי query_products.
- אל תמציא מידע. אם אתה לא יודע משהו ויש לך כלי חיפוש, השתמש בו קודם.

כלי יומן (אם מוגדר) - חובה להשתמש בהם:
- check_availability: בדוק זמנים פנויים (דורש start_date ו-end_date בפורמט YYYY-MM-DD)
- book_appointment: קבע פגישה בפועל ביומן! (דורש datetime בפורמט YYYY-MM-DDTHH:MM, duration_minutes, title)
- get_my_appointments: הצג פגישות קרובות של המשתמש
- cancel_appointment: בטל פגישה (דורש appointment_id)
- reschedule_appointment: שנה זמן של פגישה

אזהרות קריטיות לגבי פגישות:
- אסור לך להגיד ללקוח שפגישה נקבעה בלי לקרוא קודם ל-book_appointment!
- רק אחרי שתקבל אישור מ-book_appointment (עם מזהה פגישה) - אפשר להגיד ללקוח שהפגישה נקבעה.
- אם לא קראת ל-book_appointment - הפגישה לא נקבעה בפועל!
- אחרי כל שימוש בכלי (check_availability, book_appointment וכו') - חובה לענות ללקוח! אסור להשאיר אותו בלי תשובה.
- אם בדקת זמינות - חובה להציג ללקוח את הזמנים הפנויים ולשאול מה מתאים לו.
- אחרי שפגישה נקבעה בהצלחה והלקוח אישר/אמר תודה - אל תעשה בדיקות זמינות נוספות! השיחה על קביעת הפגישה הסתיימה.
- אל תשתמש בכלי check_availability בלי שהלקוח ביקש לקבוע/לשנות פגישה.

כלי מדיה וקבצים (אם יש מדיה זמינה):
- send_media: שלח תמונה, וידאו או קובץ ללקוח (דורש media_id מהרשימה)
- search_media: חפש מדיה/קבצים לפי תיאור (רק כשיש הרבה פריטים ואתה צריך למצוא משהו ספציפי)
- כשהלקוח מבקש לראות תמונה, דוגמה, קטלוג - שלח עם send_media!
- כשהלקוח מבקש מחירון, חוזה, מסמך, קובץ PDF - שלח עם send_media!
- אל תתאר תמונה במילים - שלח אותה. אל תתאר תוכן קובץ - שלח אותו.
`
