package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/4xmen/chatroom/pkg/config"
)

type appStatus struct {
	GeneratedAt     time.Time
	Environment     string
	Port            string
	DatabasePath    string
	FileStoragePath string
	Users           int64
	Admins          int64
	ActiveSessions  int64
	Messages        int64
	FileMessages    int64
	Files           int64
	UploadedBytes   int64
	MessagesLast24h int64
	LatestMessageAt string
	DBSize          int64
	DBWALSize       int64
	DBSHMSize       int64
	UploadDirSize   int64
	UploadFileCount int64
	DBMetricsReady  bool
	DBWarning       string
	StorageWarnings []string
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show application statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := collectStatus(cfg)
		if statusJSON {
			return printStatusJSON(cmd.OutOrStdout(), status)
		}
		printStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "print machine-readable JSON")
}

func collectStatus(cfg *config.Config) appStatus {
	status := appStatus{
		GeneratedAt:     time.Now(),
		Environment:     cfg.Environment,
		Port:            cfg.Port,
		DatabasePath:    cfg.DatabasePath,
		FileStoragePath: cfg.FileStoragePath,
	}

	if size, err := fileSize(cfg.DatabasePath); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}

	if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
		status.DBWALSize = size
	}

	if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
		status.DBSHMSize = size
	}

	if bytes, files, err := dirUsage(cfg.FileStoragePath); err == nil {
		status.UploadDirSize = bytes
		status.UploadFileCount = files
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("upload dir: %v", err))
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	dbConn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	if err := readDBStats(dbConn, &status); err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}

	status.DBMetricsReady = true
	return status
}

func readDBStats(dbConn *sql.DB, status *appStatus) error {
	counts := []struct {
		dst   *int64
		query string
	}{
		{&status.Users, "SELECT COUNT(*) FROM users"},
		{&status.Admins, "SELECT COUNT(*) FROM users WHERE role = 'admin'"},
		{&status.ActiveSessions, "SELECT COUNT(*) FROM sessions WHERE datetime(expires_at) > datetime('now')"},
		{&status.Messages, "SELECT COUNT(*) FROM messages"},
		{&status.FileMessages, "SELECT COUNT(*) FROM messages WHERE kind = 'file'"},
		{&status.Files, "SELECT COUNT(*) FROM files"},
		{&status.UploadedBytes, "SELECT COALESCE(SUM(file_size), 0) FROM files"},
		{&status.MessagesLast24h, "SELECT COUNT(*) FROM messages WHERE datetime(created_at) >= datetime('now', '-1 day')"},
	}

	for _, c := range counts {
		value, err := queryInt64(dbConn, c.query)
		if err != nil {
			return err
		}
		*c.dst = value
	}

	latest, err := queryString(dbConn, "SELECT COALESCE(MAX(created_at), '') FROM messages")
	if err != nil {
		return err
	}
	status.LatestMessageAt = latest
	return nil
}

func queryInt64(db *sql.DB, query string) (int64, error) {
	var value int64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func queryString(db *sql.DB, query string) (string, error) {
	var value sql.NullString
	if err := db.QueryRow(query).Scan(&value); err != nil {
		return "", err
	}
	return value.String, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func dirUsage(root string) (int64, int64, error) {
	var totalBytes int64
	var totalFiles int64

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		totalBytes += info.Size()
		totalFiles++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return totalBytes, totalFiles, nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTimestamp(value string) string {
	if value == "" {
		return "n/a"
	}
	return value
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func printStatus(out io.Writer, status appStatus) {
	totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize

	fmt.Fprintln(out, "Chatroom Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Database    : %s\n", status.DatabasePath)
	fmt.Fprintf(out, "Uploads dir : %s\n", status.FileStoragePath)
	fmt.Fprintln(out)

	data := newTable(out, "Data", "Value")
	if status.DBMetricsReady {
		data.AppendBulk([][]string{
			{"Users", strconv.FormatInt(status.Users, 10)},
			{"Admins", strconv.FormatInt(status.Admins, 10)},
			{"Active sessions", strconv.FormatInt(status.ActiveSessions, 10)},
			{"Messages", strconv.FormatInt(status.Messages, 10)},
			{"File messages", strconv.FormatInt(status.FileMessages, 10)},
			{"File records", strconv.FormatInt(status.Files, 10)},
			{"Uploaded bytes DB", formatBytes(status.UploadedBytes)},
			{"Messages last 24h", strconv.FormatInt(status.MessagesLast24h, 10)},
			{"Latest message at", formatTimestamp(status.LatestMessageAt)},
		})
	} else {
		data.Append([]string{"Database metrics", "n/a"})
	}
	data.Render()
	fmt.Fprintln(out)

	storage := newTable(out, "Storage", "Value")
	storage.AppendBulk([][]string{
		{"DB file", formatBytes(status.DBSize)},
		{"DB WAL file", formatBytes(status.DBWALSize)},
		{"DB SHM file", formatBytes(status.DBSHMSize)},
		{"DB footprint", formatBytes(totalDB)},
		{"Upload files", strconv.FormatInt(status.UploadFileCount, 10)},
		{"Upload size", formatBytes(status.UploadDirSize)},
	})
	storage.Render()

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	payload := map[string]any{
		"generated_at":      status.GeneratedAt.Format(time.RFC3339),
		"environment":       status.Environment,
		"port":              status.Port,
		"database_path":     status.DatabasePath,
		"file_storage_path": status.FileStoragePath,
		"metrics_ready":     status.DBMetricsReady,
		"metrics": map[string]any{
			"users":              status.Users,
			"admins":             status.Admins,
			"active_sessions":    status.ActiveSessions,
			"messages":           status.Messages,
			"file_messages":      status.FileMessages,
			"files":              status.Files,
			"uploaded_bytes_db":  status.UploadedBytes,
			"messages_last_24h":  status.MessagesLast24h,
			"latest_message_at":  formatTimestamp(status.LatestMessageAt),
			"uploaded_bytes_hum": formatBytes(status.UploadedBytes),
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": status.DBSize + status.DBWALSize + status.DBSHMSize,
			"upload_dir_bytes":   status.UploadDirSize,
			"upload_file_count":  status.UploadFileCount,
			"db_file_hum":        formatBytes(status.DBSize),
			"db_wal_hum":         formatBytes(status.DBWALSize),
			"db_shm_hum":         formatBytes(status.DBSHMSize),
			"db_footprint_hum":   formatBytes(status.DBSize + status.DBWALSize + status.DBSHMSize),
			"upload_dir_hum":     formatBytes(status.UploadDirSize),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
