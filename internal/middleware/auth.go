package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/services"
)

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
	projects    repos.ProjectRepo
	roles       services.RolesService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService, projects repos.ProjectRepo, roles services.RolesService) *AuthMiddleware {
	return &AuthMiddleware{
		log:         log.With("Middleware", "AuthMiddleware"),
		authService: authService,
		projects:    projects,
		roles:       roles,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		ctx, err := am.authService.SetContextFromToken(c.Request.Context(), tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		rd := requestdata.GetRequestData(ctx)
		if rd == nil || rd.UserID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireProject scopes the request to the :projectID route param: it checks
// membership, resolves the effective role, and copies the project's governance
// policy into the request data.
func (am *AuthMiddleware) RequireProject() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := requestdata.GetRequestData(c.Request.Context())
		if rd == nil || rd.UserID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		projectID, err := uuid.Parse(c.Param("projectID"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}
		project, err := am.projects.GetByID(c.Request.Context(), nil, projectID)
		if err != nil {
			am.log.Warn("Could not load project", "project_id", projectID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not load project"})
			return
		}
		if project == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		role, err := am.roles.GetEffectiveRole(c.Request.Context(), rd.UserID, projectID)
		if err != nil {
			am.log.Warn("Could not resolve role", "project_id", projectID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not resolve role"})
			return
		}
		if role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a project member"})
			return
		}
		scoped := *rd
		scoped.ProjectID = projectID
		scoped.EffectiveRole = role
		scoped.Policy = requestdata.GovernancePolicy{RequireApprovalForApply: project.RequireApprovalForApply}
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), &scoped))
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	return ""
}
