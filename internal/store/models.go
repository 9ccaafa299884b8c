package store

import "encoding/json"

// Connectivity describes which address families reach an instance.
type Connectivity int

const (
	ConnectivityAll  Connectivity = 0
	ConnectivityIPv4 Connectivity = 1
	ConnectivityIPv6 Connectivity = 2
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityIPv4:
		return "IPv4"
	case ConnectivityIPv6:
		return "IPv6"
	default:
		return "All"
	}
}

func (c Connectivity) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Host is one tracked nitter instance.
type Host struct {
	ID     int64
	Domain string
	URL    string
	// Enabled is false for hosts that vanished from the instance list.
	Enabled bool
	RSS     bool
	Version *string
	// VersionURL is the commit link from the instance's about page.
	VersionURL   *string
	Country      string
	Connectivity *Connectivity
	// Updated records structural list-refresh updates, not RSS or
	// version refreshes.
	Updated           int64
	AccountAgeAverage *int64
}

// HostUpdate is the upsert payload a list refresh produces per instance.
type HostUpdate struct {
	Domain       string
	URL          string
	Country      string
	RSS          bool
	Version      *string
	VersionURL   *string
	Connectivity *Connectivity
}

// HealthCheck is one probe result.
type HealthCheck struct {
	Host int64
	Time int64
	// RespTime is the measured elapsed milliseconds, null when the probe
	// never got a response.
	RespTime     *int64
	Healthy      bool
	ResponseCode *int
}

// CheckError captures why a probe failed.
type CheckError struct {
	Host       int64
	Time       int64
	Message    string
	HTTPBody   *string
	HTTPStatus *int
}

// InstanceStats is one .health endpoint sample.
type InstanceStats struct {
	Host          int64
	Time          int64
	LimitedAccs   int64
	TotalAccs     int64
	TotalRequests int64
}

// LatestCheck is the most recent health row per enabled host.
type LatestCheck struct {
	Host    int64
	Healthy bool
	Domain  string
}

// WindowStats are healthy/total counts over one time window.
type WindowStats struct {
	Good  int64
	Total int64
}

// PingSeries is the ping rollup over the configured range for one host.
type PingSeries struct {
	Avg   *int64
	Min   *int64
	Max   *int64
	Pings []*int64
}

// RecentCheck is one entry of a host's recent-checks strip.
type RecentCheck struct {
	Time    string
	Healthy bool
}

// MarshalJSON emits the (time, healthy) pair as a two-element array.
func (r RecentCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Time, r.Healthy})
}

// Override is one host override value.
type Override struct {
	Locked bool
	Value  *string
}

// Override keys.
const (
	KeyBadHost      = "bad_host"
	KeyHealthPath   = "health_path"
	KeyHealthQuery  = "health_query"
	KeyHealthBearer = "health_bearer"

	ValBoolTrue = "true"
)

// InstanceMail binds a notification address to a host.
type InstanceMail struct {
	Host     int64
	Mail     string
	Verified bool
}

// AlertConfig holds the per-host alert rules. Each rule is a nullable value
// plus an enable flag.
type AlertConfig struct {
	Host                        int64
	HostDownAmount              *int64
	HostDownAmountEnable        bool
	AliveAccsMinThreshold       *int64
	AliveAccsMinThresholdEnable bool
	AliveAccsMinPercent         *int64
	AliveAccsMinPercentEnable   bool
	AvgAccountAgeDays           *int64
	AvgAccountAgeDaysEnable     bool
}

// Mail kinds for last_mail_send.
const (
	MailKindAlert        = 0
	MailKindVerification = 1
)

// LogEntry is one admin audit log row.
type LogEntry struct {
	UserHost     int64
	HostAffected *int64
	Key          string
	Time         int64
	NewValue     *string
}
