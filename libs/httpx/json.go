package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ErrorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Which     string `json:"which,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable"`
}

// WriteError writes {"error":{...}} with the given kind and message.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	WriteErrorBody(w, status, ErrorBody{Kind: kind, Message: message})
}

func WriteErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	WriteJSON(w, status, map[string]ErrorBody{"error": body})
}

// ErrEmptyBody is returned by DecodeJSON when the request carries no body.
var ErrEmptyBody = errors.New("request body is required")

// DecodeJSON decodes exactly one JSON object and rejects unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		default:
			return fmt.Errorf("invalid json: %w", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single json object")
	}
	return nil
}
