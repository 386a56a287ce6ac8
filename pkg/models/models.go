package models

import (
	"sort"
	"time"
)

// ── Status Snapshot ──────────────────────────────────────────

// ServiceStatusOnline is the only status value counted as healthy.
const ServiceStatusOnline = "online"

// StatusSnapshot is one full status payload as served by the status endpoint.
// Every field is optional on the wire; absent fields decode to zero values.
type StatusSnapshot struct {
	Timestamp   string `json:"timestamp,omitempty"`
	Memories    int    `json:"memories"`
	Tasks       int    `json:"tasks"`
	EmailsIn    int    `json:"emailsIn"`
	EmailsOut   int    `json:"emailsOut"`
	Skills      int    `json:"skills"`
	Subdomains  int    `json:"subdomains"`
	Deployments int    `json:"deployments"`
	UptimeDays  int    `json:"uptime"`

	SystemStatus map[string]string `json:"systemStatus"`

	RecentActivity []ActivityEntry `json:"recentActivity"`
	RecentLogs     []LogEntry      `json:"recentLogs"`
	RecentMemories []MemoryEntry   `json:"recentMemories"`
	RecentCommands []CommandEntry  `json:"recentCommands"`
	ActiveJobs     []Job           `json:"activeJobs"`
	Resources      []Resource      `json:"resources"`
	Integrations   []Integration   `json:"integrations"`

	LastDeployment *Deployment `json:"lastDeployment,omitempty"`
}

type ActivityEntry struct {
	Time   string `json:"time"`
	Action string `json:"action"`
}

type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // "success", "info", "error"
	Message string `json:"message"`
}

type MemoryEntry struct {
	Time string `json:"time"`
	Text string `json:"text"`
}

type CommandEntry struct {
	Time    string `json:"time"`
	Command string `json:"command"`
	Status  string `json:"status"` // "success" or anything else for failure
}

type Job struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "RUNNING", "SCHEDULED", ...
}

// Resource is a named utilisation gauge. Percentage is kept in [0,100].
type Resource struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
}

type Integration struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	StatusText   string `json:"statusText"`
	LastActivity string `json:"lastActivity"`
}

type Deployment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Time string `json:"time"`
}

// Normalize clamps counts to be non-negative and percentages into [0,100],
// and replaces nil sections with empty ones so renderers never see null.
func (s *StatusSnapshot) Normalize() {
	for _, p := range s.counters() {
		if *p < 0 {
			*p = 0
		}
	}
	for i := range s.Resources {
		switch {
		case s.Resources[i].Percentage < 0:
			s.Resources[i].Percentage = 0
		case s.Resources[i].Percentage > 100:
			s.Resources[i].Percentage = 100
		}
	}
	if s.SystemStatus == nil {
		s.SystemStatus = map[string]string{}
	}
	if s.RecentActivity == nil {
		s.RecentActivity = []ActivityEntry{}
	}
	if s.RecentLogs == nil {
		s.RecentLogs = []LogEntry{}
	}
	if s.RecentMemories == nil {
		s.RecentMemories = []MemoryEntry{}
	}
	if s.RecentCommands == nil {
		s.RecentCommands = []CommandEntry{}
	}
	if s.ActiveJobs == nil {
		s.ActiveJobs = []Job{}
	}
	if s.Resources == nil {
		s.Resources = []Resource{}
	}
	if s.Integrations == nil {
		s.Integrations = []Integration{}
	}
}

func (s *StatusSnapshot) counters() []*int {
	return []*int{
		&s.Memories, &s.Tasks, &s.EmailsIn, &s.EmailsOut,
		&s.Skills, &s.Subdomains, &s.Deployments, &s.UptimeDays,
	}
}

// Clone returns a deep copy of the snapshot.
func (s *StatusSnapshot) Clone() *StatusSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	if s.SystemStatus != nil {
		cp.SystemStatus = make(map[string]string, len(s.SystemStatus))
		for k, v := range s.SystemStatus {
			cp.SystemStatus[k] = v
		}
	}
	cp.RecentActivity = append([]ActivityEntry(nil), s.RecentActivity...)
	cp.RecentLogs = append([]LogEntry(nil), s.RecentLogs...)
	cp.RecentMemories = append([]MemoryEntry(nil), s.RecentMemories...)
	cp.RecentCommands = append([]CommandEntry(nil), s.RecentCommands...)
	cp.ActiveJobs = append([]Job(nil), s.ActiveJobs...)
	cp.Resources = append([]Resource(nil), s.Resources...)
	cp.Integrations = append([]Integration(nil), s.Integrations...)
	if s.LastDeployment != nil {
		d := *s.LastDeployment
		cp.LastDeployment = &d
	}
	return &cp
}

// ── Service Enumeration ──────────────────────────────────────

// Service is a monitored backend shown in the system status panel.
type Service struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Services is the fixed display order of known system status keys.
var Services = []Service{
	{Key: "memoryDb", Name: "Memory Vector DB"},
	{Key: "coolifyApi", Name: "Coolify API"},
	{Key: "telegramBot", Name: "Telegram Bot"},
	{Key: "githubSsh", Name: "GitHub SSH"},
	{Key: "chromaDb", Name: "ChromaDB"},
	{Key: "ga4Analytics", Name: "GA4 Analytics"},
}

// ServiceName returns the display name for a status key, or the key itself.
func ServiceName(key string) string {
	for _, s := range Services {
		if s.Key == key {
			return s.Name
		}
	}
	return key
}

// OrderedServiceKeys returns the keys of status in enumeration order, followed
// by any unknown keys sorted lexically.
func OrderedServiceKeys(status map[string]string) []string {
	keys := make([]string, 0, len(status))
	known := make(map[string]bool, len(Services))
	for _, s := range Services {
		known[s.Key] = true
		if _, ok := status[s.Key]; ok {
			keys = append(keys, s.Key)
		}
	}
	var extra []string
	for k := range status {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// ── Insights ─────────────────────────────────────────────────

type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Rank orders tiers so that higher values are more urgent.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// InsightRecord is a derived, human-readable summary of one aspect of a snapshot.
type InsightRecord struct {
	Value   string `json:"value"`
	Context string `json:"context"`
	Tier    Tier   `json:"priority"`
}

// InsightSet is the full set of insight cards plus the aggregate mood tier.
type InsightSet struct {
	Priority  InsightRecord `json:"priority"`
	Health    InsightRecord `json:"health"`
	Velocity  InsightRecord `json:"velocity"`
	Attention InsightRecord `json:"attention"`
	Aggregate Tier          `json:"aggregate"`
}

// ── Session ──────────────────────────────────────────────────

// Session is the gate state persisted in session-scoped storage.
type Session struct {
	Authenticated bool      `json:"authenticated"`
	AuthorizedAt  time.Time `json:"authorized_at"`
}

// ── Dashboard View ───────────────────────────────────────────

// DashboardView is everything a renderer needs to paint one frame.
type DashboardView struct {
	Snapshot    *StatusSnapshot `json:"snapshot"`
	Insights    *InsightSet     `json:"insights,omitempty"`
	Visible     bool            `json:"visible"`
	Clock       string          `json:"clock"`
	UptimeDays  int             `json:"uptime_days"`
	LastSync    string          `json:"last_sync,omitempty"`
	LastSyncAgo string          `json:"last_sync_ago,omitempty"`
	Connected   bool            `json:"connected"`
	Fallback    bool            `json:"fallback"`
}
