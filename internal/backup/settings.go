package backup

import (
	"github.com/untoldecay/checkpoint/internal/config"
	"github.com/untoldecay/checkpoint/internal/dbpipe"
	"github.com/untoldecay/checkpoint/internal/retention"
	"github.com/untoldecay/checkpoint/internal/watcher"
)

// CaptureFlags selects which critical-file groups the executor captures
// regardless of VCS state.
type CaptureFlags struct {
	Env         bool
	Credentials bool
	IDE         bool
	Notes       bool
	AIArtifacts bool
}

// Settings is the executor's configuration snapshot, read once per run
// so a config edit mid-backup cannot change behavior between steps.
type Settings struct {
	DriveVerification bool
	DriveMarker       string

	WarnPercent     int
	CriticalPercent int

	CompressLevel int
	SymlinkPolicy string
	Excludes      []string

	Capture CaptureFlags

	EncryptionEnabled bool
	EncryptionKeyFile string

	CloudDir      string
	RemoteURI     string
	MirrorCommand string

	RetentionFloor int
	DBPolicy       retention.Policy
	FilePolicy     retention.Policy

	Pipeline dbpipe.Options
}

// SettingsFromConfig snapshots the live configuration.
func SettingsFromConfig() Settings {
	excludes := watcher.DefaultExcludes()
	excludes = append(excludes, config.GetStringSlice("watch.exclude")...)

	return Settings{
		DriveVerification: config.GetBool("drive.verification_enabled"),
		DriveMarker:       config.GetPath("drive.marker_file"),
		WarnPercent:       config.GetInt("disk.warn_percent"),
		CriticalPercent:   config.GetInt("disk.critical_percent"),
		CompressLevel:     config.GetInt("compress.level"),
		SymlinkPolicy:     config.GetEnum("backup.symlink_policy"),
		Excludes:          excludes,
		Capture: CaptureFlags{
			Env:         config.GetBool("capture.env"),
			Credentials: config.GetBool("capture.credentials"),
			IDE:         config.GetBool("capture.ide"),
			Notes:       config.GetBool("capture.notes"),
			AIArtifacts: config.GetBool("capture.ai_artifacts"),
		},
		EncryptionEnabled: config.GetBool("encryption.enabled"),
		EncryptionKeyFile: config.GetPath("encryption.key_file"),
		CloudDir:          config.GetPath("backup.cloud_dir"),
		RemoteURI:         config.GetString("backup.remote_uri"),
		MirrorCommand:     config.GetString("backup.mirror_command"),
		RetentionFloor:    retention.Floor(),
		DBPolicy:          retention.PolicyFor("databases"),
		FilePolicy:        retention.PolicyFor("files"),
		Pipeline: dbpipe.Options{
			Timeout:         config.GetDuration("database.dump_timeout"),
			CompressLevel:   config.GetInt("compress.level"),
			BackupRemote:    config.GetBool("database.backup_remote"),
			BackupDocker:    config.GetBool("database.backup_docker"),
			AutoStartLocal:  config.GetBool("database.auto_start_local_db"),
			StopLocalAfter:  config.GetBool("database.stop_db_after_backup"),
			AutoStartDocker: config.GetBool("database.auto_start_docker"),
			StopDockerAfter: config.GetBool("database.stop_docker_after_backup"),
			UseCredStore:    config.GetBool("database.credential_store"),
		},
	}
}

func (s Settings) excludeSet() map[string]bool {
	set := make(map[string]bool, len(s.Excludes))
	for _, pat := range s.Excludes {
		set[pat] = true
	}
	return set
}
