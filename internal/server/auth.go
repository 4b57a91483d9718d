package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	obscontext "github.com/smallbiznis/penwork/internal/observability/context"
	"go.uber.org/zap"
)

const (
	accessTokenQuery = "access_token"
	contextActorKey  = "actor"
)

var (
	errTokenSecretMissing = errors.New("jwt secret not configured")
	errTokenSubject       = errors.New("subject claim required")
	errTokenRole          = errors.New("role claim invalid")
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParseToken validates an HS256 token and returns the actor it names.
// System identities are never accepted from the outside.
func ParseToken(secret, token string) (actorcontext.Actor, error) {
	if strings.TrimSpace(secret) == "" {
		return actorcontext.Actor{}, errTokenSecretMissing
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if !parsed.Valid {
		return actorcontext.Actor{}, errors.New("invalid token")
	}

	id, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || id == 0 {
		return actorcontext.Actor{}, errTokenSubject
	}
	role, ok := actorcontext.ParseRole(claims.Role)
	if !ok || role == actorcontext.RoleSystem {
		return actorcontext.Actor{}, errTokenRole
	}
	return actorcontext.Actor{ID: id, Role: role}, nil
}

// SignToken issues a token for local tooling and tests.
func SignToken(secret string, actor actorcontext.Actor, issuedAt time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errTokenSecretMissing
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Role: string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// AuthRequired accepts only the Authorization header.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return s.authenticate(false)
}

// StreamAuthRequired also accepts ?access_token= because EventSource and
// browser WebSocket clients cannot set headers.
func (s *Server) StreamAuthRequired() gin.HandlerFunc {
	return s.authenticate(true)
}

func (s *Server) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok && allowQuery {
			token = strings.TrimSpace(c.Query(accessTokenQuery))
			ok = token != ""
		}
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor, err := ParseToken(s.cfg.AuthJWTSecret, token)
		if err != nil {
			if errors.Is(err, errTokenSecretMissing) {
				s.log.Error("rejecting request: AUTH_JWT_SECRET is empty")
			} else {
				s.log.Debug("token rejected", zap.Error(err))
			}
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := actorcontext.WithActor(c.Request.Context(), actor)
		ctx = obscontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (actorcontext.Actor, bool) {
	return actorcontext.ActorFromContext(c.Request.Context())
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...actorcontext.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}
