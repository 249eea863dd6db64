package fault

import (
	"net/http"

	"vouch/internal/models"
)

// Write — renders err as problem-JSON. The taxonomy code rides in the body
// so clients can branch on it without parsing statuses.
func Write(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	status := HTTPStatus(code)
	title := http.StatusText(status)
	models.WriteProblem(w, status, title, MessageOf(err), map[string]string{"code": string(code)})
}
