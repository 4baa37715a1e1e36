package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// WS метрики - сколько вкладок UI смотрят на состояние сессии
	wsActiveViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_viewers",
			Help: "Количество открытых WebSocket подписок на состояние",
		},
	)

	// Состояние транспорта: 1 у текущего состояния, 0 у остальных
	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liveclass_connection_state",
			Help: "Текущее состояние транспорта (signaling/media)",
		},
		[]string{"transport", "state"},
	)

	reconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveclass_signaling_reconnect_attempts_total",
			Help: "Попытки подключения сигналинга",
		},
		[]string{"result"},
	)

	chatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveclass_chat_messages_total",
			Help: "Сообщения чата по исходу дедупликации",
		},
		[]string{"outcome"},
	)

	moderationCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveclass_moderation_commands_total",
			Help: "Входящие команды модерации",
		},
		[]string{"command"},
	)

	droppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveclass_dropped_events_total",
			Help: "Отброшенные события сигналинга с некорректным payload",
		},
	)
)

var states = []string{"connecting", "connected", "reconnecting", "disconnected"}

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementWSActiveViewers() {
	wsActiveViewers.Inc()
}

func DecrementWSActiveViewers() {
	wsActiveViewers.Dec()
}

func SetConnectionState(transport, state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}

		connectionState.WithLabelValues(transport, s).Set(v)
	}
}

func RecordReconnectAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}

	reconnectAttempts.WithLabelValues(result).Inc()
}

// RecordChat - outcome: optimistic, appended, replaced, duplicate, retracted
func RecordChat(outcome string) {
	chatMessages.WithLabelValues(outcome).Inc()
}

func RecordModeration(command string) {
	moderationCommands.WithLabelValues(command).Inc()
}

func IncrementDroppedEvents() {
	droppedEvents.Inc()
}
