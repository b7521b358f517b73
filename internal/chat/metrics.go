// internal/chat/metrics.go

package chat

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    pushEventsTotal = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "chat_push_events_total",
            Help: "Push events handled by the synchronization controller",
        },
        []string{"type"},
    )

    refetchesTotal = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "chat_refetches_total",
            Help: "Authoritative message page refetches issued",
        },
    )

    refetchesCoalesced = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "chat_refetches_coalesced_total",
            Help: "Mutation events absorbed by an in-flight refetch",
        },
    )

    staleResponsesDropped = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "chat_stale_responses_dropped_total",
            Help: "Late REST responses discarded after a conversation switch",
        },
    )

    staleHandlerFirings = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "chat_stale_handler_firings_total",
            Help: "Handlers that fired for a no-longer-active conversation epoch",
        },
    )

    mutationsTotal = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "chat_optimistic_mutations_total",
            Help: "Optimistic mutations by kind and outcome",
        },
        []string{"kind", "outcome"},
    )

    typingEvictionsTotal = promauto.NewCounter(
        prometheus.CounterOpts{
            Name: "chat_typing_evictions_total",
            Help: "Typing entries evicted by TTL without a stopped signal",
        },
    )
)
