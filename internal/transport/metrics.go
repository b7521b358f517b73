// internal/transport/metrics.go

package transport

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    framesTotal = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "transport_frames_total",
            Help: "Push frames received by event type",
        },
        []string{"type"},
    )

    malformedPayloadsTotal = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "transport_malformed_payloads_total",
            Help: "Push frames dropped because they could not be decoded",
        },
    )

    reconnectsTotal = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "transport_reconnects_total",
            Help: "Successful websocket reconnects",
        },
    )
)
