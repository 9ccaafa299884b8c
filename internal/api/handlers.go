package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nitter-community/nitter-status/internal/pkg/httputil"
	"github.com/nitter-community/nitter-status/internal/store"
)

const verificationTokenLifetime = 24 * time.Hour

// GetInstances serves the current ranked snapshot.
func (s *Server) GetInstances(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, s.scanner.Snapshot())
}

// GetHealthGraph serves healthy/dead counts per probe timestamp as CSV.
func (s *Server) GetHealthGraph(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.HealthGraph(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{"Date", "Healthy", "Dead"})
	for _, p := range points {
		cw.Write([]string{
			time.Unix(p.Time, 0).UTC().Format(time.RFC3339),
			strconv.FormatInt(p.Healthy, 10),
			strconv.FormatInt(p.Dead, 10),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.CSV(w, buf.Bytes())
}

// GetStatsGraph serves cross-host token and request averages per stats
// timestamp as CSV.
func (s *Server) GetStatsGraph(w http.ResponseWriter, r *http.Request) {
	points, err := s.store.StatsGraph(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{"Date", "Tokens AVG", "Limited Tokens AVG", "Requests AVG"})
	for _, p := range points {
		cw.Write([]string{
			time.Unix(p.Time, 0).UTC().Format(time.RFC3339),
			strconv.FormatInt(p.TokensAvg, 10),
			strconv.FormatInt(p.LimitedAvg, 10),
			strconv.FormatInt(p.RequestsAvg, 10),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.CSV(w, buf.Bytes())
}

type verificationRequest struct {
	Mail string `json:"mail"`
}

// RequestVerification issues a fresh verification token for a host and mails
// the confirmation link to the requested address. One mail per address per
// alert timeout window.
func (s *Server) RequestVerification(w http.ResponseWriter, r *http.Request) {
	hostID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid host id")
		return
	}
	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mail == "" {
		httputil.Error(w, http.StatusBadRequest, "mail address required")
		return
	}

	ctx := r.Context()
	host, err := s.store.HostByID(ctx, hostID)
	if err != nil {
		httputil.NotFound(w, "unknown host")
		return
	}

	now := time.Now()
	sentAt, sent, err := s.store.LastMailSend(ctx, req.Mail, store.MailKindVerification)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if sent && now.Sub(time.Unix(sentAt, 0)) < s.cfg.Mail.AlertTimeout() {
		httputil.Error(w, http.StatusTooManyRequests, "a verification mail was sent recently")
		return
	}

	publicID := uuid.NewString()
	secret := uuid.NewString()
	eol := now.Add(verificationTokenLifetime).Unix()
	if err := s.store.IssueVerificationToken(ctx, host.ID, publicID, secret, req.Mail, eol); err != nil {
		httputil.InternalError(w, err)
		return
	}

	link := fmt.Sprintf("%s/api/v1/verify/%s/%s", s.cfg.Server.WebsiteURL, publicID, secret)
	body := fmt.Sprintf(
		"A mail verification for the nitter instance %s was requested.\n"+
			"Open the following link to confirm the address and enable alerts:\n\n%s\n\n"+
			"The link expires in 24 hours. If you did not request this, ignore this mail.",
		host.Domain, link)
	subject := fmt.Sprintf("Verify alert address for %s", host.Domain)
	if err := s.mail.Send(ctx, req.Mail, subject, body); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if err := s.store.SetLastMailSend(ctx, req.Mail, store.MailKindVerification, now.Unix()); err != nil {
		httputil.InternalError(w, err)
		return
	}

	key := "mail_verification_requested"
	if err := s.store.AppendLog(ctx, store.LogEntry{
		UserHost:     host.ID,
		HostAffected: &host.ID,
		Key:          key,
		Time:         now.Unix(),
	}); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "verification mail sent"})
}

// ConsumeVerification confirms a verification link and binds the mail
// address to its host.
func (s *Server) ConsumeVerification(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "public")
	secret := chi.URLParam(r, "secret")

	ok, err := s.store.ConsumeVerificationToken(r.Context(), publicID, secret, time.Now().Unix())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !ok {
		httputil.NotFound(w, "token unknown, expired or invalid")
		return
	}
	httputil.OK(w, map[string]string{"status": "mail verified"})
}
