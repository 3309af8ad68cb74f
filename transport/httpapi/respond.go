package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/roadpay/roadpay/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	writeJSON(w, core.HTTPStatus(mapped), errorBody{
		Error: errorDetail{
			Message:  mapped.Message,
			TextCode: mapped.TextCode,
		},
	})
}
