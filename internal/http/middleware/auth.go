package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/http/response"
	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/ctxutil"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

var errMissingToken = errors.New("missing or invalid token")

// AuthMiddleware accepts user bearer tokens whose subject is the learner id.
type AuthMiddleware struct {
	log    *logger.Logger
	signer *authtoken.Signer
}

func NewAuthMiddleware(log *logger.Logger, signer *authtoken.Signer) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), signer: signer}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := authtoken.BearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			response.RespondAbort(c, http.StatusUnauthorized, "unauthorized", errMissingToken)
			return
		}
		claims, err := am.signer.Verify(tokenString, authtoken.AudienceUser)
		if err != nil {
			am.log.Debug("Rejected user token", "error", err)
			response.RespondAbort(c, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil || userID == uuid.Nil {
			response.RespondAbort(c, http.StatusForbidden, "forbidden", errors.New("forbidden"))
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAudience guards machine-to-machine endpoints such as the dispatch
// callback. No request data is attached.
func RequireAudience(log *logger.Logger, signer *authtoken.Signer, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := signer.Verify(authtoken.BearerToken(c.GetHeader("Authorization")), audience); err != nil {
			log.Warn("Rejected service token", "audience", audience, "error", err)
			response.RespondAbort(c, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		c.Next()
	}
}
