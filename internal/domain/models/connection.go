package models

type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

func (s ConnectionState) severity() int {
	switch s {
	case StateConnected:
		return 0
	case StateConnecting:
		return 1
	case StateReconnecting:
		return 2
	default:
		return 3
	}
}

// Banner сводит состояния сигналинга и медиа в одно для баннера UI: побеждает худшее.
func Banner(signaling, media ConnectionState) ConnectionState {
	if media.severity() > signaling.severity() {
		return media
	}

	return signaling
}
