// services/http.go
package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberSwagger "github.com/gofiber/swagger"
	log "github.com/sirupsen/logrus"

	docs "github.com/hanmadi-app/hanmadi_api/docs"
	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/shared"
)

type HttpService struct {
	context.DefaultService

	jwtSvc        *JWTService
	authSvc       *AuthService
	batchSvc      *BatchService
	rateLimitSvc  *RateLimitService
	sweepSvc      *SweepService
	monitoringSvc *MonitoringService

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	svc.authSvc = svc.Service(AUTH_SVC).(*AuthService)
	svc.batchSvc = svc.Service(BATCH_SVC).(*BatchService)
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.sweepSvc = svc.Service(SWEEP_SVC).(*SweepService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	docs.SwaggerInfo.BasePath = ""

	svc.server = svc.buildApp()

	return svc.server.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) buildApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: svc.handleError,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(string) bool { return true },
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(MonitoringMiddleware(svc.monitoringSvc))

	//Validation endpoints
	app.Get("/ping", svc.ping)
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	v1 := app.Group("/api/v1", svc.rateLimitSvc.IPRateLimit())

	v1.Get("/ping", svc.ping)

	v1.Post("/auth/login", svc.rateLimitSvc.RateLimit(RouteClassLogin), svc.login)
	v1.Get("/session", svc.session)
	v1.Post("/session/logout", svc.logout)

	v1.Post("/batch/submit",
		svc.jwtSvc.RequiredAuth(),
		svc.rateLimitSvc.RateLimit(RouteClassBatchSubmit),
		svc.submitBatch)
	v1.Get("/batch/status", svc.jwtSvc.RequiredAuth(), svc.batchStatusByKey)
	v1.Get("/batch/:job_id", svc.jwtSvc.RequiredAuth(), svc.batchStatus)

	v1.Post("/admin/sweep", svc.jwtSvc.RequiredAuth(), svc.runSweeps)

	app.Use(func(c *fiber.Ctx) error {
		return shared.ResponseJSON(c, http.StatusNotFound, "Not Found", nil)
	})

	return app
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		if appErr.StatusCode >= 500 {
			log.WithError(appErr).Error("Request failed")
		}
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	log.WithError(err).Error("Unhandled request error")
	return shared.ResponseInternalError(c)
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")

	return shared.ResponseOK(c, "pong")
}

// @Summary Login
// @Description Authenticates the operator password and starts a session
// @Tags auth
// @Accept  json
// @Produce json
// @Param request body dto.LoginRequest true "Credentials"
// @Success 200 {object} shared.Response{data=dto.LoginResponse}
// @Failure 400 {object} shared.Response
// @Failure 401 {object} shared.Response
// @Failure 429 {object} shared.Response
// @Router /api/v1/auth/login [post]
func (svc *HttpService) login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return shared.NewValidationError(err, "Validation failed", dto.FormatValidationErrors(err))
	}

	resp, err := svc.authSvc.Login(c.UserContext(), ClientIdentity(c), req)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     shared.SessionCookie,
		Value:    resp.Token,
		Expires:  time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return shared.ResponseOK(c, resp)
}

// @Summary Session
// @Description Returns the identity behind the current session token
// @Tags auth
// @Produce json
// @Success 200 {object} shared.Response{data=dto.SessionResponse}
// @Failure 401 {object} shared.Response{data=dto.SessionResponse}
// @Router /api/v1/session [get]
func (svc *HttpService) session(c *fiber.Ctx) error {
	token := ExtractTokenFromHeader(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Cookies(shared.SessionCookie)
	}

	if token != "" {
		if claims, err := svc.jwtSvc.Verify(c.UserContext(), token); err == nil {
			return shared.ResponseOK(c, dto.SessionResponse{
				Authenticated: true,
				User: &dto.SessionUser{
					ID:    claims.UserID,
					Email: claims.Email,
					Name:  claims.Name,
				},
			})
		}
	}

	return shared.ResponseUnauthorized(c, dto.SessionResponse{Authenticated: false})
}

// @Summary Logout
// @Description Revokes the current session token and clears the cookie
// @Tags auth
// @Produce json
// @Success 200 {object} shared.Response{data=dto.LogoutResponse}
// @Router /api/v1/session/logout [post]
func (svc *HttpService) logout(c *fiber.Ctx) error {
	token := ExtractTokenFromHeader(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Cookies(shared.SessionCookie)
	}

	revoked := false
	if token != "" {
		if claims, err := svc.jwtSvc.Verify(c.UserContext(), token); err == nil {
			var expiresAt time.Time
			if claims.ExpiresAt != nil {
				expiresAt = claims.ExpiresAt.Time
			}
			revoked = svc.authSvc.Logout(c.UserContext(), claims.ID, expiresAt)
		}
	}

	// The client session ends regardless of whether the server-side kill
	// landed, so logout never fails.
	c.Cookie(&fiber.Cookie{
		Name:     shared.SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return shared.ResponseOK(c, dto.LogoutResponse{Success: revoked})
}

// @Summary Submit batch job
// @Description Registers an asynchronous model invocation, idempotent per (session, message)
// @Tags batch
// @Accept  json
// @Produce json
// @Param request body dto.SubmitBatchRequest true "Job payload"
// @Success 200 {object} shared.Response{data=dto.SubmitBatchResponse}
// @Success 202 {object} shared.Response{data=dto.SubmitBatchResponse}
// @Failure 400 {object} shared.Response
// @Failure 401 {object} shared.Response
// @Failure 429 {object} shared.Response
// @Router /api/v1/batch/submit [post]
// @Security ApiKeyAuth
func (svc *HttpService) submitBatch(c *fiber.Ctx) error {
	var req dto.SubmitBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request body")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return shared.NewValidationError(err, "Validation failed", dto.FormatValidationErrors(err))
	}

	userID, _ := c.Locals(shared.UserID).(string)

	resp, err := svc.batchSvc.Submit(c.UserContext(), userID, req)
	if err != nil {
		return err
	}

	if resp.Duplicate {
		return shared.ResponseOK(c, resp)
	}
	return shared.ResponseJSON(c, http.StatusAccepted, "Accepted", resp)
}

// @Summary Batch job status by key
// @Description Returns the job registered under an idempotency key, if any
// @Tags batch
// @Produce json
// @Param session_id query string true "Session id"
// @Param message_id query string true "Message id"
// @Success 200 {object} shared.Response{data=dto.BatchStatusResponse}
// @Failure 400 {object} shared.Response
// @Failure 401 {object} shared.Response
// @Router /api/v1/batch/status [get]
// @Security ApiKeyAuth
func (svc *HttpService) batchStatusByKey(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	messageID := c.Query("message_id")
	if sessionID == "" || messageID == "" {
		return shared.NewBadRequestError(nil, "session_id and message_id are required")
	}

	userID, _ := c.Locals(shared.UserID).(string)

	resp, err := svc.batchSvc.GetStatusByKey(c.UserContext(), userID, sessionID, messageID)
	if err != nil {
		return err
	}
	if resp == nil {
		return shared.ResponseOK(c, dto.BatchStatusResponse{Status: "not_found"})
	}

	return shared.ResponseOK(c, resp)
}

// @Summary Batch job status
// @Description Returns the state and result of one batch job
// @Tags batch
// @Produce json
// @Param job_id path string true "Job id"
// @Success 200 {object} shared.Response{data=dto.BatchStatusResponse}
// @Failure 401 {object} shared.Response
// @Router /api/v1/batch/{job_id} [get]
// @Security ApiKeyAuth
func (svc *HttpService) batchStatus(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	userID, _ := c.Locals(shared.UserID).(string)

	resp, err := svc.batchSvc.GetStatus(c.UserContext(), userID, jobID)
	if err != nil {
		return err
	}
	if resp == nil {
		// Unknown ids get a soft answer so pollers can treat the job as
		// simply not there yet.
		return shared.ResponseOK(c, dto.BatchStatusResponse{JobID: jobID, Status: "not_found"})
	}

	return shared.ResponseOK(c, resp)
}

// @Summary Run maintenance sweeps
// @Description Triggers one deterministic sweep pass over all expirable state
// @Tags admin
// @Produce json
// @Success 200 {object} shared.Response
// @Failure 401 {object} shared.Response
// @Router /api/v1/admin/sweep [post]
// @Security ApiKeyAuth
func (svc *HttpService) runSweeps(c *fiber.Ctx) error {
	results := svc.sweepSvc.RunSweeps(c.UserContext(), time.Now())
	return shared.ResponseOK(c, results)
}
