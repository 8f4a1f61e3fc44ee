package logger

// Intention is the semantic purpose of a log line, orthogonal to its level.
// The console renders it as an icon; files keep it as a structured attribute.
type Intention string

const (
	IntentionTurn       Intention = "turn"
	IntentionSession    Intention = "session"
	IntentionPersist    Intention = "persist"
	IntentionCatalog    Intention = "catalog"
	IntentionStatistics Intention = "statistics"
	IntentionStatus     Intention = "status"
	IntentionSuccess    Intention = "success"
	IntentionConfig     Intention = "config"
	IntentionCancel     Intention = "cancel"
	IntentionDebug      Intention = "debug"
	IntentionWarning    Intention = "warning"
	IntentionError      Intention = "error"
)

func iconFor(i Intention) string {
	switch i {
	case IntentionTurn:
		return "💬"
	case IntentionSession:
		return "🗂"
	case IntentionPersist:
		return "💾"
	case IntentionCatalog:
		return "📚"
	case IntentionStatistics:
		return "📊"
	case IntentionStatus:
		return "ℹ️"
	case IntentionSuccess:
		return "✅"
	case IntentionConfig:
		return "⚙️"
	case IntentionCancel:
		return "🛑"
	case IntentionDebug:
		return "🛠️"
	default:
		return "➤"
	}
}
