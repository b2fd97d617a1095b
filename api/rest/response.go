package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/apperr"
)

// fail writes err as {"error": msg, "code": CODE} with the mapped status.
// Anything that is not an apperr.Error is reported as INTERNAL and its
// detail is not exposed.
func fail(c *gin.Context, err error) {
	ae := apperr.From(err)
	c.JSON(ae.Status, gin.H{"error": ae.Msg, "code": ae.Code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.ErrInvalidArgument.Code})
}

// paramID parses a positive int64 path parameter. It writes the 400 response
// itself and reports false on failure.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
