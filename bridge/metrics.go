package bridge

// Command names of the Torwell84 host used by the resource dashboard.
const (
	CommandRequestToken     = "request_token"
	CommandLoadMetrics      = "load_metrics"
	CommandGetStatusSummary = "get_status_summary"

	EventMetricsUpdate = "metrics-update"
)

// MetricSeries returns a generator of n metric points shaped like the
// samples load_metrics returns.
func MetricSeries(n int) *Generator {
	return &Generator{
		Kind:       GeneratorSeries,
		Count:      n,
		TimeField:  "time",
		IntervalMs: 1000,
		Fields: map[string]Wave{
			"memoryMB":       {Base: 180, Amplitude: 20, Period: 15},
			"circuitCount":   {Base: 6, Amplitude: 2, Period: 10, Integer: true},
			"latencyMs":      {Base: 120, Amplitude: 40, Period: 12, Integer: true},
			"oldestAge":      {Base: 300, Amplitude: 60, Period: 30, Integer: true},
			"avgCreateMs":    {Base: 850, Amplitude: 150, Period: 20, Integer: true},
			"failedAttempts": {Base: 0},
			"cpuPercent":     {Base: 12.5, Amplitude: 7.5, Period: 8},
			"networkBytes":   {Base: 40000, Amplitude: 15000, Period: 6, Integer: true},
			"networkTotal":   {Base: 5000000},
		},
		Static: map[string]interface{}{"complete": true},
	}
}

// StatusSummary returns a get_status_summary response of a connected host
// that moved totalTraffic bytes.
func StatusSummary(totalTraffic int64) map[string]interface{} {
	return map[string]interface{}{
		"status":                "CONNECTED",
		"connected_since":       nil,
		"uptime_seconds":        3600,
		"total_traffic_bytes":   totalTraffic,
		"network_bytes_per_sec": 40000,
		"total_network_bytes":   totalTraffic,
		"latency_ms":            120,
		"memory_bytes":          188743680,
		"circuit_count":         6,
		"oldest_circuit_age":    300,
		"cpu_percent":           12.5,
		"tray_warning":          nil,
		"retry_count":           0,
	}
}

// DashboardConfig is the host the resource dashboard needs: a session
// token, samples metric points and a status summary.
func DashboardConfig(samples int) Config {
	return Config{
		Commands: map[string]Response{
			CommandRequestToken:     {Value: 42},
			CommandLoadMetrics:      {Generator: MetricSeries(samples)},
			CommandGetStatusSummary: {Value: StatusSummary(5000000)},
		},
		Events: []string{EventMetricsUpdate},
	}
}
