// Package httpserver contains the HTTP handlers and middleware for the
// voting API. Every endpoint replies with the same envelope shape; the
// status field inside the envelope carries the outcome, not the HTTP
// status line.
package httpserver

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response body.
type Envelope struct {
	Status  int    `json:"status"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// Envelope statuses. StatusSkipped is what the skip endpoint reports.
const (
	StatusOK          = 0
	StatusUnsupported = 1
	StatusSkipped     = 200
	StatusBadRequest  = 400
	StatusNotFound    = 404
	StatusInternal    = 500
)

// Envelope messages.
const (
	MsgOK                           = "OK"
	MsgTargetTopicNotFound          = "TargetTopicNotFound"
	MsgTargetTopicNotActive         = "TargetTopicNotActive"
	MsgBallotNotFound               = "BallotNotFound"
	MsgBallotWinnerCannotBeLoser    = "BallotWinnerCannotBeLoser"
	MsgInvalidBallotCode            = "InvalidBallotCode"
	MsgRequestTopicTypeMismatch     = "RequestTopicTypeMismatch"
	MsgUnsupportedTopicType         = "UnsupportedTopicType"
	MsgCurTopicNotSupportFinalOrder = "CurTopicNotSupportFinalOrder"
	MsgCurTopicNotSupport1v1Matrix  = "CurTopicNotSupport1v1Matrix"
	MsgInternalError                = "InternalError"
	MsgTopicCreateFailed            = "TopicCreateFailed"
	MsgEndpointForbidden            = "EndpointForbidden"
)

func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEnvelope replies HTTP 200 with the envelope; outcomes live in the
// envelope status.
func writeEnvelope(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, http.StatusOK, Envelope{Status: status, Data: data, Message: message})
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, StatusOK, data, MsgOK)
}

func writeBadRequest(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, Envelope{Status: StatusBadRequest, Message: MsgInternalError})
}

func writeForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, Envelope{Status: StatusInternal, Message: MsgEndpointForbidden})
}

// writeOverloaded is the one case where the HTTP status line changes:
// the aggregator queue is full and the client should back off.
func writeOverloaded(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, Envelope{Status: StatusInternal, Message: MsgInternalError})
}
