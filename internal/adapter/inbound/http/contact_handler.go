package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxLeadBodyBytes = 64 << 10

// LeadRequest is the contact form payload accepted by the built-in intake.
type LeadRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Company string `json:"company,omitempty" validate:"omitempty,max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

type leadResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ContactHandler is the built-in lead intake used when no upstream is configured.
// It checks the payload shape and acknowledges it; delivery is out of scope.
type ContactHandler struct {
	validate *validator.Validate
}

// NewContactHandler creates a ContactHandler.
func NewContactHandler() *ContactHandler {
	return &ContactHandler{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ServeHTTP accepts POST with a JSON LeadRequest and answers 202 on success.
func (h *ContactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeLeadResponse(w, http.StatusMethodNotAllowed, leadResponse{Error: "Method not allowed"})
		return
	}

	var lead LeadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLeadBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&lead); err != nil {
		writeLeadResponse(w, http.StatusBadRequest, leadResponse{Error: "Invalid JSON body"})
		return
	}

	if err := h.validate.Struct(lead); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeLeadResponse(w, http.StatusBadRequest, leadResponse{Error: "Invalid request"})
			return
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = describeFieldError(fe)
		}
		writeLeadResponse(w, http.StatusUnprocessableEntity, leadResponse{Error: "Invalid request", Fields: fields})
		return
	}

	LoggerFromContext(r.Context()).Info("lead received",
		"email_domain", emailDomain(lead.Email),
		"has_phone", lead.Phone != "",
		"message_len", len(lead.Message),
	)
	writeLeadResponse(w, http.StatusAccepted, leadResponse{
		Success: true,
		Message: "Thank you, we will get back to you shortly.",
	})
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}

func emailDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return domain
	}
	return ""
}

func writeLeadResponse(w http.ResponseWriter, status int, body leadResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
