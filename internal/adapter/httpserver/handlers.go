package httpserver

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fairyhunter13/ark-vote/internal/config"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

// Server bundles the services the HTTP handlers dispatch into.
type Server struct {
	Cfg     config.Config
	Ballots usecase.BallotService
	Topics  usecase.TopicService
	Results *usecase.ResultsService
}

// NewServer constructs the handler set.
func NewServer(cfg config.Config, ballots usecase.BallotService, topics usecase.TopicService, results *usecase.ResultsService) *Server {
	return &Server{Cfg: cfg, Ballots: ballots, Topics: topics, Results: results}
}

type topicIDRequest struct {
	TopicID string `json:"topic_id" validate:"required"`
}

type newBallotRequest struct {
	TopicID string `json:"topic_id" validate:"required"`
	// BallotID, when set, is a previously issued challenge the client
	// abandoned; it is handed back to the stream for reclamation.
	BallotID string `json:"ballot_id"`
}

type saveBallotRequest struct {
	TopicID   string `json:"topic_id" validate:"required"`
	BallotID  string `json:"ballot_id" validate:"required"`
	TopicType string `json:"topic_type"`
	Winner    int32  `json:"winner"`
	Loser     int32  `json:"loser"`
}

type skipBallotRequest struct {
	TopicID  string `json:"topic_id" validate:"required"`
	BallotID string `json:"ballot_id" validate:"required"`
}

type createTopicRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name" validate:"required"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Type          string          `json:"topic_type" validate:"required,oneof=Pairwise Setwise Groupwise Plurality"`
	CandidatePool domain.PoolExpr `json:"candidate_pool"`
	OpenTime      time.Time       `json:"open_time" validate:"required"`
	CloseTime     time.Time       `json:"close_time" validate:"required"`
}

type auditTopicRequest struct {
	TopicID       string `json:"topic_id" validate:"required"`
	AuditorID     string `json:"auditor_id" validate:"required"`
	AuditorName   string `json:"auditor_name"`
	AuditReason   string `json:"audit_reason"`
	AuditCategory string `json:"audit_category" validate:"required"`
}

type saveBallotResponse struct {
	Code int `json:"code"`
}

type topicListResponse struct {
	TopicIDs []string `json:"topic_ids"`
}

type candidatePoolResponse struct {
	TopicID string                     `json:"topic_id"`
	Pool    []domain.CharacterPortrait `json:"pool"`
}

// BallotNew issues a fresh pairwise challenge for the topic. A request
// carrying the previous ballot_id also recycles that challenge.
func (s *Server) BallotNew(w http.ResponseWriter, r *http.Request) {
	var req newBallotRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	ch, err := s.Ballots.Create(r.Context(), req.TopicID)
	if err != nil {
		s.writeBallotError(w, r, err)
		return
	}
	if req.BallotID != "" {
		if err := s.Ballots.Recycle(r.Context(), req.TopicID, req.BallotID); err != nil {
			s.writeBallotError(w, r, err)
			return
		}
	}
	writeOK(w, ch)
}

// BallotSave validates and queues a completed ballot.
func (s *Server) BallotSave(w http.ResponseWriter, r *http.Request) {
	var req saveBallotRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	err := s.Ballots.Save(r.Context(), usecase.SaveBallotInput{
		TopicID:   req.TopicID,
		BallotID:  req.BallotID,
		TopicType: req.TopicType,
		Winner:    req.Winner,
		Loser:     req.Loser,
		IP:        clientIP(r),
		UserAgent: userAgent(r),
	})
	if err != nil {
		s.writeBallotError(w, r, err)
		return
	}
	writeOK(w, saveBallotResponse{Code: 0})
}

// BallotSkip discards an unused challenge.
func (s *Server) BallotSkip(w http.ResponseWriter, r *http.Request) {
	var req skipBallotRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	if err := s.Ballots.Skip(r.Context(), req.TopicID, req.BallotID); err != nil {
		s.writeBallotError(w, r, err)
		return
	}
	writeEnvelope(w, StatusSkipped, map[string]int{"code": 0}, MsgOK)
}

func (s *Server) writeBallotError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrTopicNotFound):
		writeEnvelope(w, StatusNotFound, nil, MsgTargetTopicNotFound)
	case errors.Is(err, domain.ErrTopicNotActive):
		writeEnvelope(w, StatusInternal, nil, MsgTargetTopicNotActive)
	case errors.Is(err, domain.ErrUnsupportedTopicType):
		writeEnvelope(w, StatusUnsupported, nil, MsgUnsupportedTopicType)
	case errors.Is(err, domain.ErrTypeMismatch):
		writeEnvelope(w, StatusInternal, nil, MsgRequestTopicTypeMismatch)
	case errors.Is(err, domain.ErrBallotNotFound):
		writeEnvelope(w, StatusNotFound, nil, MsgBallotNotFound)
	case errors.Is(err, domain.ErrWinnerIsLoser):
		writeEnvelope(w, StatusBadRequest, nil, MsgBallotWinnerCannotBeLoser)
	case errors.Is(err, domain.ErrInvalidBallotCode), errors.Is(err, domain.ErrInvalidBallotFormat):
		writeEnvelope(w, StatusBadRequest, nil, MsgInvalidBallotCode)
	case errors.Is(err, domain.ErrQueueFull):
		LoggerFrom(r).Warn("ballot queue full, shedding load")
		writeOverloaded(w)
	default:
		LoggerFrom(r).Error("ballot request failed", slog.Any("error", err))
		writeEnvelope(w, StatusInternal, nil, MsgInternalError)
	}
}

// TopicCreate registers a new topic awaiting audit.
func (s *Server) TopicCreate(w http.ResponseWriter, r *http.Request) {
	if !s.Cfg.AuditEnabled {
		writeForbidden(w)
		return
	}
	var req createTopicRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	topic, err := s.Topics.Create(r.Context(), usecase.TopicCreateInput{
		ID:            req.ID,
		Name:          req.Name,
		Title:         req.Title,
		Description:   req.Description,
		Type:          domain.TopicType(req.Type),
		CandidatePool: req.CandidatePool,
		OpenTime:      req.OpenTime,
		CloseTime:     req.CloseTime,
	})
	if err != nil {
		LoggerFrom(r).Error("topic create failed", slog.Any("error", err))
		writeEnvelope(w, StatusInternal, nil, MsgTopicCreateFailed)
		return
	}
	writeOK(w, topic)
}

// TopicInfo returns the topic document, cached when possible.
func (s *Server) TopicInfo(w http.ResponseWriter, r *http.Request) {
	var req topicIDRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	topic, err := s.Topics.Info(r.Context(), req.TopicID)
	if err != nil {
		s.writeTopicError(w, r, err)
		return
	}
	writeOK(w, topic)
}

// TopicCandidatePool materializes the topic's pool as portraits.
func (s *Server) TopicCandidatePool(w http.ResponseWriter, r *http.Request) {
	var req topicIDRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	portraits, err := s.Topics.CandidatePool(r.Context(), req.TopicID)
	if err != nil {
		s.writeTopicError(w, r, err)
		return
	}
	writeOK(w, candidatePoolResponse{TopicID: req.TopicID, Pool: portraits})
}

// TopicList returns ids of topics flagged active.
func (s *Server) TopicList(w http.ResponseWriter, _ *http.Request) {
	ids := s.Topics.ListActive()
	if ids == nil {
		ids = []string{}
	}
	writeOK(w, topicListResponse{TopicIDs: ids})
}

func (s *Server) writeTopicError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrTopicNotFound) {
		writeEnvelope(w, StatusNotFound, nil, MsgTargetTopicNotFound)
		return
	}
	LoggerFrom(r).Error("topic request failed", slog.Any("error", err))
	writeEnvelope(w, StatusInternal, nil, MsgInternalError)
}

// ResultsFinalOrder returns the ranked standing for a topic.
func (s *Server) ResultsFinalOrder(w http.ResponseWriter, r *http.Request) {
	var req topicIDRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	res, err := s.Results.FinalOrder(r.Context(), req.TopicID)
	if err != nil {
		s.writeResultsError(w, r, err, MsgCurTopicNotSupportFinalOrder)
		return
	}
	writeOK(w, res)
}

// Results1v1Matrix returns the head-to-head matrix for a topic.
func (s *Server) Results1v1Matrix(w http.ResponseWriter, r *http.Request) {
	var req topicIDRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	res, err := s.Results.Matrix1v1(r.Context(), req.TopicID)
	if err != nil {
		s.writeResultsError(w, r, err, MsgCurTopicNotSupport1v1Matrix)
		return
	}
	writeOK(w, res)
}

func (s *Server) writeResultsError(w http.ResponseWriter, r *http.Request, err error, unsupportedMsg string) {
	switch {
	case errors.Is(err, domain.ErrTopicNotFound):
		writeEnvelope(w, StatusNotFound, nil, MsgTargetTopicNotFound)
	case errors.Is(err, domain.ErrUnsupportedTopicType):
		writeEnvelope(w, StatusInternal, nil, unsupportedMsg)
	default:
		LoggerFrom(r).Error("results request failed", slog.Any("error", err))
		writeEnvelope(w, StatusInternal, nil, MsgInternalError)
	}
}

// AuditTopic applies a review outcome to a topic.
func (s *Server) AuditTopic(w http.ResponseWriter, r *http.Request) {
	if !s.Cfg.AuditEnabled {
		writeForbidden(w)
		return
	}
	var req auditTopicRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w)
		return
	}
	topic, err := s.Topics.Audit(r.Context(), req.TopicID, domain.TopicAuditInfo{
		AuditorID:     req.AuditorID,
		AuditorName:   req.AuditorName,
		AuditTime:     time.Now().UTC(),
		AuditReason:   req.AuditReason,
		AuditCategory: domain.AuditCategory(req.AuditCategory),
	})
	if err != nil {
		s.writeTopicError(w, r, err)
		return
	}
	writeOK(w, topic)
}

// AuditNeedAuditTopics lists topics still waiting for review.
func (s *Server) AuditNeedAuditTopics(w http.ResponseWriter, r *http.Request) {
	if !s.Cfg.AuditEnabled {
		writeForbidden(w)
		return
	}
	topics, err := s.Topics.NeedAudit(r.Context())
	if err != nil {
		LoggerFrom(r).Error("need audit listing failed", slog.Any("error", err))
		writeEnvelope(w, StatusInternal, nil, MsgInternalError)
		return
	}
	if topics == nil {
		topics = []domain.Topic{}
	}
	writeOK(w, topics)
}

// Healthz reports liveness.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP prefers the reverse proxy header and falls back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func userAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "unknown"
}
