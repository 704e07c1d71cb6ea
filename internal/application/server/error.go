package server

import (
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse renderer type for handling all sorts of errors.
type ErrResponse struct {
	HTTPStatusCode int `json:"-"` // http response status code
	Body           ErrResponseBody
}

// ErrResponseBody is readable output to application/human about error
type ErrResponseBody struct {
	// user-level status message
	StatusText string `json:"status"`
	// application-level error message, for debugging
	ErrorText string `json:"error,omitempty"`
}

// Render forms output for ErrResponse
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) {
	render.Status(r, e.HTTPStatusCode)
	render.JSON(w, r, e.Body)
}

// ErrInternal returns internal server error
func ErrInternal(err error) *ErrResponse {
	return &ErrResponse{
		HTTPStatusCode: 500,
		Body: ErrResponseBody{
			StatusText: "Internal Server Error.",
			ErrorText:  err.Error(),
		},
	}
}
