package rtc

import (
	"github.com/pion/webrtc/v4"
)

// Сообщения SFU едут в том же конверте events.Message, что и сигналинг
const (
	sfuJoin      = "join"
	sfuJoined    = "joined"
	sfuOffer     = "offer"
	sfuAnswer    = "answer"
	sfuCandidate = "candidate"
	sfuSubscribe = "subscribe"
	sfuRenew     = "renew"
	sfuLeave     = "leave"

	sfuPublished       = "published"
	sfuUnpublished     = "unpublished"
	sfuParticipantLeft = "participant-left"
	sfuTokenWillExpire = "token-will-expire"
	sfuError           = "error"
)

// sfuErrUnauthorized - код отказа по токену
const sfuErrUnauthorized = "unauthorized"

type joinEvent struct {
	AppID   string `json:"appId"`
	Token   string `json:"token"`
	Channel string `json:"channel"`
	UID     string `json:"uid"`
}

type sdpEvent struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

type candidateEvent struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type trackEvent struct {
	UID  string `json:"uid"`
	Kind string `json:"kind"`
}

type renewEvent struct {
	Token string `json:"token"`
}

type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
