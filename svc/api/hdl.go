package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"pastebox/cfg"
	"pastebox/pkg/domain"
	"pastebox/svc/svc"
	"pastebox/svc/util"
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

// CreateReq mirrors the boundary shape: expires_in is a millisecond offset
// from now, absent meaning the paste never expires.
type CreateReq struct {
	Content       string `json:"content"`
	ExpiresIn     *int64 `json:"expires_in,omitempty"`
	Language      string `json:"language,omitempty"`
	BurnAfterRead bool   `json:"burn_after_read,omitempty"`
	IsPrivate     bool   `json:"is_private,omitempty"`
	Password      string `json:"password,omitempty"`
}

type CreateResp struct {
	ID string `json:"id"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}
	limit := h.cfg.MaxPasteSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if int64(len(req.Content)) > h.cfg.MaxPasteSize {
		log.Warn().Int("content_length", len(req.Content)).Msg("content exceeds maximum size")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	params := domain.CreateParams{
		Content:       norm.NFC.String(req.Content),
		Language:      req.Language,
		BurnAfterRead: req.BurnAfterRead,
		IsPrivate:     req.IsPrivate,
		Password:      req.Password,
	}
	if req.ExpiresIn != nil {
		d := time.Duration(*req.ExpiresIn) * time.Millisecond
		params.ExpiresIn = &d
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Bool("burn_after_read", paste.BurnAfterRead).
		Bool("encrypted", paste.IsEncrypted).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{ID: paste.ID})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	password := r.URL.Query().Get("password")
	if password == "" {
		password = r.Header.Get("X-Paste-Password")
	}
	paste, err := h.paste.Get(r.Context(), id, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPassword) || errors.Is(err, domain.ErrPasswordRequired) {
			log.Warn().
				Str("paste_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("password gate rejected read")
		} else {
			log.Warn().Err(err).Str("paste_id", id).Msg("get failed")
		}
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Int("views", paste.Views).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) PreviewPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	summary, err := h.paste.Preview(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("preview failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(summary)
}

func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	summaries, err := h.paste.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(summaries)
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.paste.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			log.Error().Err(err).Str("paste_id", id).Msg("failed to delete paste")
		}
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      resp.Error.Msg,
		"code":       resp.Error.Code,
		"request_id": requestID,
	})
}
