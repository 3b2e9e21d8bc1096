// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package forward

import (
	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "vsock_helper"

// Values of the direction label of forwardedBytes.
const (
	directionRx = "rx"
	directionTx = "tx"
)

var (
	acceptedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "accepted_connections_total",
		Help:      "Connections accepted on the vsock listener.",
	})

	acceptErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "accept_errors_total",
		Help:      "Failed accept calls on the vsock listener.",
	})

	targetDialErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "target_dial_errors_total",
		Help:      "Failed attempts to reach the forwarding target.",
	})

	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "active_connections",
		Help:      "Connections currently being relayed.",
	})

	forwardedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "forwarded_bytes_total",
		Help:      "Bytes relayed, rx: read from the vsock stream, tx: written to it.",
	}, []string{"direction"})
)

// RegisterMetrics registers the forwarding metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(acceptedConnections)
	reg.MustRegister(acceptErrors)
	reg.MustRegister(targetDialErrors)
	reg.MustRegister(activeConnections)
	reg.MustRegister(forwardedBytes)
}
