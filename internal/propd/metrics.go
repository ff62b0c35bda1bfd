/*
 * Copyright 2024 The propd Authors.
 */

package propd

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "propd_requests_total",
			Help: "Number of set requests accepted by the property service.",
		})
	requestsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propd_requests_failed_total",
			Help: "Number of set requests rejected, by error kind.",
		}, []string{"kind"})
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "propd_active_connections",
			Help: "Number of client connections currently being serviced.",
		})
	persistLogRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "propd_persist_log_records_total",
			Help: "Number of persist.* records appended to the persist log.",
		})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestsFailed, activeConnections, persistLogRecords)
}
