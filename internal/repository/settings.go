package repository

// SettingsRepository loads and stores the raw settings document
type SettingsRepository interface {
	Load() ([]byte, error)
	Save(data []byte) error
	FindSettingsFile() (string, error)
}
