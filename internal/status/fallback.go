package status

import "github.com/tars-dashboard/engine/pkg/models"

// FallbackVersion identifies the built-in dataset served when the status
// endpoint is unreachable.
const FallbackVersion = "2.1.0-eink"

// Fallback returns a fresh copy of the built-in status snapshot.
func Fallback() *models.StatusSnapshot {
	s := &models.StatusSnapshot{
		Memories:    107,
		Tasks:       3,
		EmailsIn:    2,
		EmailsOut:   1,
		Skills:      16,
		Subdomains:  12,
		Deployments: 12,
		UptimeDays:  5,
		SystemStatus: map[string]string{
			"memoryDb":     "online",
			"coolifyApi":   "online",
			"telegramBot":  "online",
			"githubSsh":    "online",
			"chromaDb":     "online",
			"ga4Analytics": "online",
		},
		RecentActivity: []models.ActivityEntry{
			{Time: "18:32", Action: "Memory synchronization complete"},
			{Time: "18:28", Action: "New deployment triggered"},
			{Time: "18:15", Action: "Git push: dashboard updates"},
			{Time: "17:46", Action: "Removed chat feature from dashboard"},
			{Time: "17:45", Action: "Deployed updated dashboard to production"},
			{Time: "17:35", Action: "Chat bar added to dashboard"},
		},
		ActiveJobs: []models.Job{
			{Name: "Memory Sync", Status: "RUNNING"},
			{Name: "Daily Traffic Report", Status: "SCHEDULED"},
			{Name: "Pulse Check", Status: "SCHEDULED"},
			{Name: "Hourly Touch-Base", Status: "SCHEDULED"},
		},
		RecentLogs: []models.LogEntry{
			{Time: "18:32", Type: "success", Message: "Dashboard refresh completed"},
			{Time: "18:28", Type: "info", Message: "Metrics collector running"},
			{Time: "18:15", Type: "success", Message: "Git push: 6 files changed"},
			{Time: "17:46", Type: "info", Message: "Build started: tars-dashboard"},
			{Time: "17:44", Type: "success", Message: "Coolify deployment triggered"},
			{Time: "17:30", Type: "info", Message: "Metrics collected: 107 memories"},
		},
		RecentMemories: []models.MemoryEntry{
			{Time: "18:32", Text: "E-ink dashboard redesign completed"},
			{Time: "18:28", Text: "Added refresh flash animations"},
			{Time: "17:46", Text: "Removed chat feature from dashboard"},
			{Time: "17:35", Text: "Chat bar added to dashboard"},
			{Time: "17:22", Text: "Deployed TARS E-ink Dashboard"},
		},
		Resources: []models.Resource{
			{Name: "Memory DB", Percentage: 45},
			{Name: "Disk Usage", Percentage: 62},
			{Name: "CPU Load", Percentage: 23},
		},
		Integrations: []models.Integration{
			{Type: "telegram", Name: "Telegram Bot", Status: "online", StatusText: "ACTIVE", LastActivity: "2s ago"},
			{Type: "gmail", Name: "Gmail API", Status: "online", StatusText: "ACTIVE", LastActivity: "1m ago"},
			{Type: "coolify", Name: "Coolify API", Status: "online", StatusText: "CONNECTED", LastActivity: "Live"},
			{Type: "twitter", Name: "Twitter/X API", Status: "warning", StatusText: "LIMITED", LastActivity: "Rate limit"},
		},
		RecentCommands: []models.CommandEntry{
			{Time: "18:32:15", Command: "python3 api/collect-metrics.py", Status: "success"},
			{Time: "18:28:42", Command: "git push origin main", Status: "success"},
			{Time: "18:15:08", Command: "coolify-deploy deploy tars-dashboard", Status: "success"},
			{Time: "17:46:12", Command: `git commit -m "E-ink redesign"`, Status: "success"},
			{Time: "17:44:30", Command: "python3 api/collect-metrics.py", Status: "success"},
		},
		LastDeployment: &models.Deployment{
			Name: "tars-dashboard",
			URL:  "tars-dashboard.devsharsha.live",
			Time: "18:28",
		},
	}
	s.Normalize()
	return s
}
