package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

// ContentTypeProblemJSON is the media type of RFC 7807 responses.
const ContentTypeProblemJSON = "application/problem+json"

// Problem type URI references.
const (
	TypeNotFound          = "/problems/not-found"
	TypeInvalidTransition = "/problems/invalid-transition"
	TypeStoreUnavailable  = "/problems/store-unavailable"
	TypeBadRequest        = "/problems/bad-request"
	TypeInternal          = "/problems/internal-error"
)

// Problem is an RFC 7807 Problem Details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

func (p Problem) WithDetail(detail string) Problem {
	p.Detail = detail
	return p
}

var (
	problemNotFound = Problem{
		Type:   TypeNotFound,
		Title:  "Resource Not Found",
		Status: http.StatusNotFound,
	}
	problemInvalidTransition = Problem{
		Type:   TypeInvalidTransition,
		Title:  "Invalid Order State Transition",
		Status: http.StatusConflict,
	}
	problemStoreUnavailable = Problem{
		Type:   TypeStoreUnavailable,
		Title:  "Store Unavailable",
		Status: http.StatusServiceUnavailable,
	}
	problemBadRequest = Problem{
		Type:   TypeBadRequest,
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
	}
	problemInternal = Problem{
		Type:   TypeInternal,
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
	}
)

// problemFromError maps domain error categories to HTTP problems.
func problemFromError(err error) Problem {
	switch {
	case domain.IsNotFound(err):
		return problemNotFound.WithDetail(err.Error())
	case domain.IsInvalidTransition(err):
		return problemInvalidTransition.WithDetail(err.Error())
	case domain.IsInvalidOrder(err):
		return problemBadRequest.WithDetail(err.Error())
	case domain.IsStoreUnavailable(err):
		// Driver errors can leak connection details.
		return problemStoreUnavailable
	default:
		return problemInternal
	}
}

func respondProblem(c *gin.Context, problem Problem) {
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(problem.Status, problem)
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	respondProblem(c, problemFromError(err))
}

func respondBadRequest(c *gin.Context, detail string) {
	respondProblem(c, problemBadRequest.WithDetail(detail))
}
