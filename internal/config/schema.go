package config

// KeyType enumerates the value types the schema recognizes.
type KeyType string

const (
	TypeString   KeyType = "string"
	TypeInt      KeyType = "int"
	TypeBool     KeyType = "bool"
	TypeDuration KeyType = "duration"
	TypePath     KeyType = "path"
	TypeEnum     KeyType = "enum"
	TypeList     KeyType = "list"
)

// KeySpec declares one recognized configuration key.
type KeySpec struct {
	Type        KeyType
	Default     interface{}
	Enum        []string // allowed values when Type == TypeEnum
	Description string
}

// Schema enumerates every recognized key with its type, default, and a
// human description. Unknown keys on load produce a warning but do not
// abort; `config validate --strict` turns them into errors.
var Schema = map[string]KeySpec{
	"backup.dir":                    {Type: TypePath, Default: "", Description: "Backup destination root for this project"},
	"backup.cloud_dir":              {Type: TypePath, Default: "", Description: "Optional local cloud folder (Dropbox/Drive mount) to mirror into"},
	"backup.remote_uri":             {Type: TypeString, Default: "", Description: "Optional remote object-store URI to mirror into"},
	"backup.interval":               {Type: TypeDuration, Default: "3600s", Description: "Minimum wall-clock gap between automatic backups"},
	"backup.debounce_seconds":       {Type: TypeDuration, Default: "60s", Description: "Trailing-edge debounce after the last change event"},
	"backup.session_idle_threshold": {Type: TypeDuration, Default: "600s", Description: "Idle gap after which new activity counts as a new session"},
	"backup.symlink_policy":         {Type: TypeEnum, Default: "preserve", Enum: []string{"follow", "preserve", "skip"}, Description: "How symlinks are captured in file snapshots"},
	"backup.mirror_command":         {Type: TypeString, Default: "rclone copy", Description: "Command that copies a tree to the remote URI"},

	"drive.verification_enabled": {Type: TypeBool, Default: false, Description: "Require the drive marker file before any backup starts"},
	"drive.marker_file":           {Type: TypePath, Default: "", Description: "Marker file proving the backup drive is mounted"},

	"disk.warn_percent":     {Type: TypeInt, Default: 80, Description: "Disk usage percentage that triggers a warning"},
	"disk.critical_percent": {Type: TypeInt, Default: 90, Description: "Disk usage percentage that blocks new backups"},

	"compress.level": {Type: TypeInt, Default: 6, Description: "gzip compression level for archived snapshots"},

	"encryption.enabled":  {Type: TypeBool, Default: false, Description: "Encrypt final artifacts with an age recipient"},
	"encryption.key_file": {Type: TypePath, Default: "", Description: "Path to the age recipient key file"},

	"capture.env":          {Type: TypeBool, Default: true, Description: "Capture .env* files even when gitignored"},
	"capture.credentials":  {Type: TypeBool, Default: true, Description: "Capture keys, PEMs, and token files"},
	"capture.ide":          {Type: TypeBool, Default: false, Description: "Capture IDE and editor settings directories"},
	"capture.notes":        {Type: TypeBool, Default: false, Description: "Capture local notes files"},
	"capture.ai_artifacts": {Type: TypeBool, Default: true, Description: "Capture AI-assistant artifact directories"},

	"watch.poll_interval": {Type: TypeDuration, Default: "30s", Description: "Polling cadence when native file watching is unavailable"},
	"watch.exclude":       {Type: TypeList, Default: []string{}, Description: "Extra path patterns excluded from watching, merged with defaults"},

	"database.backup_remote":            {Type: TypeBool, Default: false, Description: "Dump databases whose host is not local"},
	"database.backup_docker":            {Type: TypeBool, Default: true, Description: "Dump databases hosted in Docker containers"},
	"database.auto_start_local_db":      {Type: TypeBool, Default: false, Description: "Transiently start a stopped local engine to dump it"},
	"database.stop_db_after_backup":     {Type: TypeBool, Default: true, Description: "Stop a local engine again if checkpoint started it"},
	"database.auto_start_docker":        {Type: TypeBool, Default: false, Description: "Start Docker if needed for container dumps"},
	"database.stop_docker_after_backup": {Type: TypeBool, Default: true, Description: "Stop Docker when checkpoint started it and no backup still needs it"},
	"database.dump_timeout":             {Type: TypeDuration, Default: "120s", Description: "Wall-clock timeout for each database dump"},
	"database.credential_store":         {Type: TypeBool, Default: false, Description: "Consult the credential store for passwords discovery could not find"},

	"retention.keep_minimum":             {Type: TypeInt, Default: 3, Description: "Floor: retention never leaves fewer artifacts than this per bucket"},
	"retention.databases.time_based":     {Type: TypeInt, Default: 30, Description: "Delete database artifacts older than N days (negative disables)"},
	"retention.databases.count_based":    {Type: TypeInt, Default: 0, Description: "Keep only the newest K database artifacts (0 disables)"},
	"retention.databases.size_based_mb":  {Type: TypeInt, Default: 0, Description: "Cap the databases bucket at S MB (0 disables)"},
	"retention.databases.never_delete":   {Type: TypeBool, Default: false, Description: "Disable all pruning for the databases bucket"},
	"retention.files.time_based":         {Type: TypeInt, Default: 90, Description: "Delete archived file snapshots older than N days (negative disables)"},
	"retention.files.count_based":        {Type: TypeInt, Default: 0, Description: "Keep only the newest K archived snapshots (0 disables)"},
	"retention.files.size_based_mb":      {Type: TypeInt, Default: 0, Description: "Cap the files bucket at S MB (0 disables)"},
	"retention.files.never_delete":       {Type: TypeBool, Default: false, Description: "Disable all pruning for the files bucket"},

	"notify.quiet_hours":    {Type: TypeString, Default: "", Description: "Daily HH-HH window suppressing non-critical notifications"},
	"notify.renotify_hours": {Type: TypeInt, Default: 4, Description: "Hours of continued fault before a repeated alert re-notifies"},

	"log.max_size_mb": {Type: TypeInt, Default: 10, Description: "Log size bound before rotation"},
}

// IsKnownKey reports whether the schema recognizes the dotted key.
func IsKnownKey(key string) bool {
	_, ok := Schema[key]
	return ok
}
