package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

// seedHosts inserts the given domains and returns their ids.
func seedHosts(t *testing.T, s *Store, now int64, domains ...string) map[string]int64 {
	t.Helper()
	updates := make([]HostUpdate, 0, len(domains))
	for _, d := range domains {
		updates = append(updates, HostUpdate{
			Domain:  d,
			URL:     "https://" + d,
			Country: "🇩🇪",
		})
	}
	_, err := s.ReplaceInstanceList(context.Background(), updates, now)
	require.NoError(t, err)

	hosts, err := s.EnabledHosts(context.Background())
	require.NoError(t, err)
	ids := make(map[string]int64, len(hosts))
	for _, h := range hosts {
		ids[h.Domain] = h.ID
	}
	return ids
}

func TestReplaceInstanceList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := seedHosts(t, s, 1000, "a.example.org", "b.example.org")
	require.Len(t, ids, 2)

	// refresh without b disables it and updates a
	version := "2024.01.01-abc1234"
	connectivity := ConnectivityIPv4
	disabled, err := s.ReplaceInstanceList(ctx, []HostUpdate{{
		Domain:       "a.example.org",
		URL:          "https://a.example.org",
		Country:      "🇳🇱",
		RSS:          true,
		Version:      &version,
		Connectivity: &connectivity,
	}}, 2000)
	require.NoError(t, err)
	assert.Equal(t, 1, disabled)

	hosts, err := s.EnabledHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	a := hosts[0]
	assert.Equal(t, "a.example.org", a.Domain)
	assert.Equal(t, "🇳🇱", a.Country)
	assert.True(t, a.RSS)
	require.NotNil(t, a.Version)
	assert.Equal(t, version, *a.Version)
	require.NotNil(t, a.Connectivity)
	assert.Equal(t, ConnectivityIPv4, *a.Connectivity)
	assert.EqualValues(t, 2000, a.Updated)

	b, err := s.HostByID(ctx, ids["b.example.org"])
	require.NoError(t, err)
	assert.False(t, b.Enabled)
	assert.EqualValues(t, 2000, b.Updated)

	// returning host is re-enabled, id stays stable
	_, err = s.ReplaceInstanceList(ctx, []HostUpdate{
		{Domain: "a.example.org", URL: "https://a.example.org", Country: "🇳🇱"},
		{Domain: "b.example.org", URL: "https://b.example.org", Country: "🇩🇪"},
	}, 3000)
	require.NoError(t, err)
	b, err = s.HostByID(ctx, ids["b.example.org"])
	require.NoError(t, err)
	assert.True(t, b.Enabled)
}

func insertCheck(t *testing.T, s *Store, host, time int64, healthy bool, ping int64) {
	t.Helper()
	hc := HealthCheck{Host: host, Time: time, Healthy: healthy}
	if ping >= 0 {
		hc.RespTime = &ping
		code := 200
		hc.ResponseCode = &code
	}
	require.NoError(t, s.InsertHealthCheck(context.Background(), hc))
}

func TestHealthQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org", "b.example.org")
	a, b := ids["a.example.org"], ids["b.example.org"]

	insertCheck(t, s, a, 100, true, 50)
	insertCheck(t, s, a, 200, false, -1)
	insertCheck(t, s, a, 300, true, 70)
	insertCheck(t, s, b, 100, false, -1)
	insertCheck(t, s, b, 200, false, -1)

	latest, err := s.LatestCheckPerHost(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	byHost := make(map[int64]LatestCheck)
	for _, c := range latest {
		byHost[c.Host] = c
	}
	assert.True(t, byHost[a].Healthy)
	assert.Equal(t, "a.example.org", byHost[a].Domain)
	assert.False(t, byHost[b].Healthy)

	lastHealthy, err := s.LastHealthy(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 300, lastHealthy[a])
	_, ok := lastHealthy[b]
	assert.False(t, ok)

	window, err := s.WindowStatsRange(ctx, 150, 300)
	require.NoError(t, err)
	assert.EqualValues(t, 1, window[a].Good)
	assert.EqualValues(t, 2, window[a].Total)
	assert.EqualValues(t, 0, window[b].Good)

	percentages, err := s.HealthyPercentages(ctx)
	require.NoError(t, err)
	// 2 of 3 healthy rounds to 67
	assert.Equal(t, 67, percentages[a])
	assert.Equal(t, 0, percentages[b])

	lastEntry, err := s.LastEntryTime(ctx, "health_check")
	require.NoError(t, err)
	assert.EqualValues(t, 300, lastEntry)
}

func TestLastEntryTimeEmptyAndUnknownTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastEntryTime(ctx, "instance_stats")
	require.NoError(t, err)
	assert.Zero(t, last)

	_, err = s.LastEntryTime(ctx, "host; DROP TABLE host")
	assert.Error(t, err)
}

func TestPingsRollup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org", "b.example.org")
	a, b := ids["a.example.org"], ids["b.example.org"]

	insertCheck(t, s, a, 100, true, 30)
	insertCheck(t, s, a, 200, false, -1)
	insertCheck(t, s, a, 300, true, 45)
	insertCheck(t, s, b, 150, false, -1)

	series, err := s.Pings(ctx, 0)
	require.NoError(t, err)

	sa := series[a]
	require.NotNil(t, sa.Avg)
	// integer mean truncates: (30+45)/2 = 37
	assert.EqualValues(t, 37, *sa.Avg)
	assert.EqualValues(t, 30, *sa.Min)
	assert.EqualValues(t, 45, *sa.Max)
	require.Len(t, sa.Pings, 3)
	assert.Nil(t, sa.Pings[1])

	sb := series[b]
	assert.Nil(t, sb.Avg)
	assert.Nil(t, sb.Min)
	require.Len(t, sb.Pings, 1)
	assert.Nil(t, sb.Pings[0])

	// range filter cuts old entries
	series, err = s.Pings(ctx, 250)
	require.NoError(t, err)
	require.Len(t, series[a].Pings, 1)
	assert.EqualValues(t, 45, *series[a].Avg)
}

func TestRecentChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org")
	a := ids["a.example.org"]

	// 1700000000 = 2023-11-14 22:13:20 UTC
	for i := int64(0); i < 30; i++ {
		insertCheck(t, s, a, 1700000000+i*60, i%2 == 0, 10)
	}

	checks, err := s.RecentChecks(ctx, a, 22)
	require.NoError(t, err)
	require.Len(t, checks, 22)
	// ascending, newest last
	assert.Equal(t, "2023.11.14 22:42", checks[len(checks)-1].Time)
	assert.Less(t, checks[0].Time, checks[len(checks)-1].Time)

	data, err := checks[len(checks)-1].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["2023.11.14 22:42", false]`, string(data))
}

func TestVersionPoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org", "b.example.org")
	a, b := ids["a.example.org"], ids["b.example.org"]

	va, vb := "2024.01.01-aaaaaaa", "2024.02.02-bbbbbbb"
	_, err := s.ReplaceInstanceList(ctx, []HostUpdate{
		{Domain: "a.example.org", URL: "https://a.example.org", Version: &va},
		{Domain: "b.example.org", URL: "https://b.example.org", Version: &vb},
	}, 0)
	require.NoError(t, err)

	insertCheck(t, s, a, 100, true, 10)
	insertCheck(t, s, b, 100, true, 10)

	points, err := s.VersionPoints(ctx, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 0.5, points[va], 1e-9)
	assert.InDelta(t, 1.0, points[vb], 1e-9)
}

func TestCleanupCheckErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org")
	a := ids["a.example.org"]

	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.InsertCheckError(ctx, CheckError{
			Host: a, Time: 100 + i, Message: "failed to fetch",
		}))
	}

	deleted, err := s.CleanupCheckErrors(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 7, deleted)

	var remaining int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM check_errors WHERE host = ?`, a).Scan(&remaining))
	assert.Equal(t, 3, remaining)
	var oldest int64
	require.NoError(t, s.db.QueryRow(
		`SELECT MIN(time) FROM check_errors WHERE host = ?`, a).Scan(&oldest))
	assert.EqualValues(t, 107, oldest)
}

func TestInstanceStatsAndGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org", "b.example.org")
	a, b := ids["a.example.org"], ids["b.example.org"]

	require.NoError(t, s.InsertInstanceStats(ctx, []InstanceStats{
		{Host: a, Time: 100, LimitedAccs: 2, TotalAccs: 10, TotalRequests: 500},
		{Host: b, Time: 100, LimitedAccs: 5, TotalAccs: 15, TotalRequests: 1000},
	}))

	st, err := s.StatsAt(ctx, a, 100)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.EqualValues(t, 10, st.TotalAccs)

	missing, err := s.StatsAt(ctx, a, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	graph, err := s.StatsGraph(ctx)
	require.NoError(t, err)
	require.Len(t, graph, 1)
	assert.EqualValues(t, 100, graph[0].Time)
	assert.EqualValues(t, 12, graph[0].TokensAvg)
	assert.EqualValues(t, 3, graph[0].LimitedAvg)
	assert.EqualValues(t, 750, graph[0].RequestsAvg)
}

func TestHealthGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org", "b.example.org")

	insertCheck(t, s, ids["a.example.org"], 100, true, 10)
	insertCheck(t, s, ids["b.example.org"], 100, false, -1)
	insertCheck(t, s, ids["a.example.org"], 200, true, 10)

	graph, err := s.HealthGraph(ctx)
	require.NoError(t, err)
	require.Len(t, graph, 2)
	assert.EqualValues(t, 1, graph[0].Healthy)
	assert.EqualValues(t, 1, graph[0].Dead)
	assert.EqualValues(t, 1, graph[1].Healthy)
	assert.EqualValues(t, 0, graph[1].Dead)
}

func TestOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org", "b.example.org")
	a, b := ids["a.example.org"], ids["b.example.org"]

	val := ValBoolTrue
	path := "/custom/health"
	require.NoError(t, s.SetOverride(ctx, a, KeyBadHost, &val, false))
	require.NoError(t, s.SetOverride(ctx, a, KeyHealthPath, &path, false))
	require.NoError(t, s.SetOverride(ctx, b, KeyHealthBearer, &path, true))

	overrides, err := s.Overrides(ctx)
	require.NoError(t, err)
	require.Contains(t, overrides, a)
	assert.Equal(t, path, *overrides[a][KeyHealthPath].Value)
	assert.True(t, overrides[b][KeyHealthBearer].Locked)

	bad, err := s.BadHosts(ctx)
	require.NoError(t, err)
	assert.Contains(t, bad, a)
	assert.NotContains(t, bad, b)

	// locked rows do not update
	other := "other"
	require.NoError(t, s.SetOverride(ctx, b, KeyHealthBearer, &other, false))
	overrides, err = s.Overrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, path, *overrides[b][KeyHealthBearer].Value)
}

func TestAlertConfigValidation(t *testing.T) {
	val := func(v int64) *int64 { return &v }

	assert.NoError(t, AlertConfig{HostDownAmount: val(3)}.Validate())
	assert.ErrorIs(t, AlertConfig{HostDownAmount: val(2)}.Validate(), ErrAlertConfigBounds)
	assert.ErrorIs(t, AlertConfig{AliveAccsMinPercent: val(51)}.Validate(), ErrAlertConfigBounds)
	assert.ErrorIs(t, AlertConfig{AliveAccsMinThreshold: val(10001)}.Validate(), ErrAlertConfigBounds)
	assert.ErrorIs(t, AlertConfig{AvgAccountAgeDays: val(19)}.Validate(), ErrAlertConfigBounds)
	assert.NoError(t, AlertConfig{}.Validate())
}

func TestAlertConfigRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org")
	a := ids["a.example.org"]

	down := int64(3)
	require.NoError(t, s.UpsertAlertConfig(ctx, AlertConfig{
		Host:                 a,
		HostDownAmount:       &down,
		HostDownAmountEnable: true,
	}))

	configs, err := s.AlertConfigs(ctx)
	require.NoError(t, err)
	c, ok := configs[a]
	require.True(t, ok)
	assert.True(t, c.HostDownAmountEnable)
	require.NotNil(t, c.HostDownAmount)
	assert.EqualValues(t, 3, *c.HostDownAmount)
	assert.False(t, c.AliveAccsMinPercentEnable)
	assert.Nil(t, c.AliveAccsMinPercent)
}

func TestLastMailSend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastMailSend(ctx, "op@example.org", MailKindAlert)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLastMailSend(ctx, "op@example.org", MailKindAlert, 500))
	require.NoError(t, s.SetLastMailSend(ctx, "op@example.org", MailKindAlert, 900))

	at, ok, err := s.LastMailSend(ctx, "op@example.org", MailKindAlert)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 900, at)
}

func TestVerificationTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org")
	a := ids["a.example.org"]

	require.NoError(t, s.IssueVerificationToken(ctx, a, "pub-1", "secret-1", "op@example.org", 1000))
	// reissue replaces the previous token
	require.NoError(t, s.IssueVerificationToken(ctx, a, "pub-2", "secret-2", "op@example.org", 1000))

	ok, err := s.ConsumeVerificationToken(ctx, "pub-1", "secret-1", 500)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ConsumeVerificationToken(ctx, "pub-2", "wrong", 500)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ConsumeVerificationToken(ctx, "pub-2", "secret-2", 500)
	require.NoError(t, err)
	assert.True(t, ok)

	bindings, err := s.MailBindings(ctx)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "op@example.org", bindings[0].Mail)
	assert.True(t, bindings[0].Verified)

	// consumed tokens are gone
	ok, err = s.ConsumeVerificationToken(ctx, "pub-2", "secret-2", 500)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerificationTokenExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org")
	a := ids["a.example.org"]

	require.NoError(t, s.IssueVerificationToken(ctx, a, "pub-1", "secret-1", "op@example.org", 1000))

	ok, err := s.ConsumeVerificationToken(ctx, "pub-1", "secret-1", 2000)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := s.SweepExpiredTokens(ctx, 2000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestAuditLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, 0, "a.example.org")
	a := ids["a.example.org"]

	value := ValBoolTrue
	require.NoError(t, s.AppendLog(ctx, LogEntry{
		UserHost: a, HostAffected: &a, Key: KeyBadHost, Time: 100, NewValue: &value,
	}))
	require.NoError(t, s.AppendLog(ctx, LogEntry{
		UserHost: a, Key: KeyHealthPath, Time: 200,
	}))

	entries, err := s.LogsSince(ctx, 150)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KeyHealthPath, entries[0].Key)
	assert.Nil(t, entries[0].HostAffected)
}
