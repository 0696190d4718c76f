package types

// command-line state a starting instance hands to the owner of its project
type StartupArgs struct {
	Project     ProjectIdentity `json:"project"`
	Locale      string          `json:"locale,omitempty"`
	RestoreFile string          `json:"restore_file,omitempty"`
	Link        *LinkArgs       `json:"link,omitempty"`
	Extra       []string        `json:"extra,omitempty"`
}

// a request to jump to an object inside a project
type LinkArgs struct {
	Project ProjectIdentity `json:"project"`
	Tool    string          `json:"tool"`
	Target  string          `json:"target,omitempty"`
}

// a request to restore a project from a backup file
type RestoreSettings struct {
	Project            ProjectIdentity `json:"project"`
	BackupFile         string          `json:"backup_file"`
	CreateSafetyBackup bool            `json:"create_safety_backup,omitempty"`
}
