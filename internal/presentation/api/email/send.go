// SPDX-License-Identifier: AGPL-3.0-or-later
package email

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/presentation/api/shared"
)

// maxSendBodyBytes bounds the ingestion request body to the 1 MiB limit
// from §4.1/§8; a rendered transactional email's HTML rarely approaches
// this, and it keeps a malformed or abusive client from holding a DB
// transaction open while the server reads an unbounded body.
const maxSendBodyBytes = 1 << 20 // 1 MiB

const (
	maxCcBcc             = 5
	maxSubjectLen        = 150
	maxHeaderCount        = 10
	maxHeaderValueLen     = 256
	maxTagCount           = 5
	maxTagLen             = 32
	maxAttachmentCount    = 10
	maxAttachmentBytes    = 10 << 20 // 10 MiB per attachment
	maxAttachmentsTotal   = 40 << 20 // 40 MiB combined
)

var sendValidate = validator.New(validator.WithRequiredStructEnabled())

type sendAttachmentBody struct {
	Filename string `json:"filename" validate:"required,max=255"`
	MIMEType string `json:"mimeType" validate:"required"`
	SizeBy   int64  `json:"sizeBytes" validate:"required,gt=0"`
	Digest   string `json:"digest" validate:"required"`
}

type sendRequestBody struct {
	To          string                `json:"to" validate:"required,email,max=254"`
	Cc          []string              `json:"cc,omitempty" validate:"omitempty,max=5,dive,email"`
	Bcc         []string              `json:"bcc,omitempty" validate:"omitempty,max=5,dive,email"`
	From        string                `json:"from,omitempty" validate:"omitempty,email"`
	Subject     string                `json:"subject" validate:"required,min=1,max=150"`
	HTML        string                `json:"html,omitempty"`
	Text        string                `json:"text,omitempty"`
	ReplyTo     string                `json:"replyTo,omitempty" validate:"omitempty,email"`
	Headers     []models.Header       `json:"headers,omitempty" validate:"omitempty,max=10,dive"`
	Tags        []string              `json:"tags,omitempty" validate:"omitempty,max=5,dive,max=32"`
	Attachments []sendAttachmentBody  `json:"attachments,omitempty" validate:"omitempty,max=10,dive"`
	ExternalID  string                `json:"externalId,omitempty"`

	RecipientExternalID string `json:"recipientExternalId,omitempty"`
	FiscalID             string `json:"cpfCnpj,omitempty"`
	RecipientName         string `json:"nome,omitempty"`
	RecipientLegalName    string `json:"razaoSocial,omitempty"`
}

type sendResponse struct {
	OutboxID   string             `json:"outboxId"`
	JobID      string             `json:"jobId"`
	RequestID  string             `json:"requestId"`
	Status     string             `json:"status"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Recipient  *sendRecipientInfo `json:"recipient,omitempty"`
}

type sendRecipientInfo struct {
	ExternalID string `json:"externalId,omitempty"`
}

// HandleSend serves POST /v1/email/send.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	companyID, err := h.tenants.CurrentCompany(ctx)
	if err != nil {
		shared.WriteUnauthorized(w, r, "")
		return
	}
	company, err := h.companies.GetByID(ctx, companyID)
	if err != nil {
		shared.WriteInternalError(w, r)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSendBodyBytes)
	var body sendRequestBody
	decodeErr := json.NewDecoder(r.Body).Decode(&body)
	if decodeErr != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(decodeErr, &maxBytesErr) {
			shared.WritePayloadTooLarge(w, r, "request body exceeds 1 MiB limit")
			return
		}
		shared.WriteValidationError(w, r, "malformed JSON body", nil)
		return
	}

	if fieldErrs := validateSendRequest(body); len(fieldErrs) > 0 {
		shared.WriteValidationError(w, r, "invalid send request", fieldErrs)
		return
	}

	attachments := make([]models.AttachmentRef, 0, len(body.Attachments))
	for _, a := range body.Attachments {
		attachments = append(attachments, models.AttachmentRef{
			Filename: a.Filename, MIMEType: a.MIMEType, SizeBy: a.SizeBy, Digest: a.Digest,
		})
	}

	req := services.SendRequest{
		From: body.From, To: body.To, Cc: body.Cc, Bcc: body.Bcc,
		Subject: body.Subject, HTML: body.HTML, Text: body.Text, ReplyTo: body.ReplyTo,
		Headers: body.Headers, Tags: body.Tags, Attachments: attachments, ExternalID: body.ExternalID,
		RecipientExternalID: body.RecipientExternalID, FiscalID: body.FiscalID,
		RecipientName: body.RecipientName, RecipientLegalName: body.RecipientLegalName,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		RequestID:      requestIDFor(r),
	}

	o, err := h.ingestion.Submit(ctx, companyID, company, req)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}

	resp := sendResponse{
		OutboxID:   o.ID.String(),
		JobID:      o.ID.String(),
		RequestID:  o.RequestID,
		Status:     string(o.Status),
		ReceivedAt: o.CreatedAt,
	}
	if o.ExternalID != nil {
		resp.Recipient = &sendRecipientInfo{ExternalID: *o.ExternalID}
	}
	shared.WriteJSON(w, http.StatusAccepted, resp)
}

// validateSendRequest runs the go-playground/validator struct tags plus the
// boundary checks §4.1/§8 require that tags alone can't express: a body
// with neither html nor text, CRLF injection in the subject, and the
// header-name safe-list/value-length/attachment-size rules.
func validateSendRequest(b sendRequestBody) []shared.FieldError {
	var errs []shared.FieldError

	if verr := sendValidate.Struct(b); verr != nil {
		var ve validator.ValidationErrors
		if errors.As(verr, &ve) {
			for _, fe := range ve {
				errs = append(errs, shared.FieldError{
					Field:   jsonFieldName(fe.StructField()),
					Message: fe.Tag(),
				})
			}
		}
	}

	if b.HTML == "" && b.Text == "" {
		errs = append(errs, shared.FieldError{Field: "html", Message: "either html or text body is required"})
	}
	if strings.ContainsAny(b.Subject, "\r\n") {
		errs = append(errs, shared.FieldError{Field: "subject", Message: "must not contain CRLF"})
	}

	for i, h := range b.Headers {
		if !isSafeListedHeader(h.Name) {
			errs = append(errs, shared.FieldError{Field: fieldIndex("headers", i, "name"), Message: "header not in safe list"})
			continue
		}
		if len(h.Value) > maxHeaderValueLen {
			errs = append(errs, shared.FieldError{Field: fieldIndex("headers", i, "value"), Message: "exceeds max length"})
		}
		if strings.ContainsAny(h.Value, "\r\n") {
			errs = append(errs, shared.FieldError{Field: fieldIndex("headers", i, "value"), Message: "must not contain CRLF"})
		}
	}

	var totalAttachmentBytes int64
	for i, a := range b.Attachments {
		if a.SizeBy > maxAttachmentBytes {
			errs = append(errs, shared.FieldError{Field: fieldIndex("attachments", i, "sizeBytes"), Message: "exceeds per-attachment max of 10 MiB"})
		}
		totalAttachmentBytes += a.SizeBy
	}
	if totalAttachmentBytes > maxAttachmentsTotal {
		errs = append(errs, shared.FieldError{Field: "attachments", Message: "combined attachment size exceeds 40 MiB"})
	}

	return errs
}

// isSafeListedHeader allows only X-Priority and the X-Custom-* prefix
// through to the provider, per the outbox header safe list.
func isSafeListedHeader(name string) bool {
	if strings.EqualFold(name, "X-Priority") {
		return true
	}
	return len(name) > len("X-Custom-") && strings.EqualFold(name[:len("X-Custom-")], "X-Custom-")
}

func fieldIndex(field string, i int, sub string) string {
	return field + "[" + itoa(i) + "]." + sub
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// jsonFieldName maps a validator StructField name to the request's JSON
// field name for the error envelope, falling back to a lower-cased form.
func jsonFieldName(structField string) string {
	t := map[string]string{
		"To": "to", "Cc": "cc", "Bcc": "bcc", "From": "from", "Subject": "subject",
		"ReplyTo": "replyTo", "Headers": "headers", "Tags": "tags", "Attachments": "attachments",
	}
	if name, ok := t[structField]; ok {
		return name
	}
	return strings.ToLower(structField)
}

func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrIdempotencyConflict):
		shared.WriteConflict(w, r, "idempotency key already used with a different payload")
	case errors.Is(err, models.ErrRecipientSuppressed):
		shared.WriteForbidden(w, r, "recipient is suppressed")
	case errors.Is(err, models.ErrDomainNotVerified):
		shared.WriteForbidden(w, r, "sending domain not verified")
	case errors.Is(err, models.ErrCompanySuspended):
		shared.WriteForbidden(w, r, "company suspended")
	case errors.Is(err, models.ErrRateLimited):
		shared.WriteRateLimited(w, r, 60)
	case errors.Is(err, models.ErrDailyCapExceeded):
		shared.WriteRateLimited(w, r, 3600)
	default:
		shared.WriteInternalError(w, r)
	}
}

func requestIDFor(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}
