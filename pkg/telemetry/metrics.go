// Copyright 2024-2026 Aiku AI

// Package telemetry holds the bridge's Prometheus collectors.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay direction labels.
const (
	DirectionToGame = "to_game"
	DirectionToChat = "to_chat"
)

var (
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftbridge_messages_relayed_total",
		Help: "Lines delivered across the bridge, by direction",
	}, []string{"direction"})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftbridge_messages_dropped_total",
		Help: "Messages dropped before delivery, by direction and reason",
	}, []string{"direction", "reason"})
	PendingLines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "craftbridge_pending_lines",
		Help: "Lines waiting for the game server to become ready or drain",
	})

	LinkCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftbridge_link_codes_total",
		Help: "Link code events by outcome (issued, redeemed, expired, not_found)",
	}, []string{"outcome"})
	LinkedAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "craftbridge_linked_accounts",
		Help: "Number of established identity links",
	})

	EmojiFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftbridge_emoji_fetch_total",
		Help: "Emoji asset fetch results (downloaded, skipped, failed)",
	}, []string{"result"})
	EmojiFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "craftbridge_emoji_fetch_duration_seconds",
		Help:    "Duration of a full emoji download run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	BundleBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftbridge_bundle_builds_total",
		Help: "Resource pack builds by result",
	}, []string{"result"})
	BundleBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "craftbridge_bundle_bytes",
		Help: "Size of the currently served resource pack",
	})
	BundleDownloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "craftbridge_bundle_downloads_total",
		Help: "Resource pack responses served with a body",
	})
)

// ObserveSince records the seconds elapsed since start.
func ObserveSince(obs prometheus.Observer, start time.Time) time.Duration {
	d := time.Since(start)
	obs.Observe(d.Seconds())
	return d
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
