package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatdb_messages_appended_total",
		Help: "Messages appended across all chats.",
	})
	messagesTombstoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatdb_messages_tombstoned_total",
		Help: "Messages replaced by tombstones (deletes and chat deletes).",
	})
	unreadScans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatdb_unread_scans_total",
		Help: "Message-log scans performed to answer unread counts.",
	})
	tombstonesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatdb_tombstones_purged_total",
		Help: "Tombstones physically removed by the retention runner.",
	})
)
