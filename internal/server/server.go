package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/flora-backend/internal/handler"
	appmw "github.com/shinyyama/flora-backend/internal/middleware"
	"github.com/shinyyama/flora-backend/internal/service"
	"go.uber.org/zap"
)

// Services are the dependencies the HTTP layer routes to.
type Services struct {
	Orders        service.OrderService
	Payments      service.PaymentService
	Poller        *service.PaymentPoller
	Messages      service.MessageService
	Notifications service.NotificationService
}

type Server struct {
	e     *echo.Echo
	sha   string
	build string
}

func allowOrigin(origin string) (bool, error) {
	low := strings.ToLower(origin)
	if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
		strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
		return true, nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false, nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, nil
	}
	host := u.Hostname()
	if strings.HasSuffix(host, "pages.dev") || strings.HasSuffix(host, "vercel.app") {
		return true, nil
	}
	return false, nil
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			}
			if uid, ok := c.Get("uid").(string); ok && uid != "" {
				fields = append(fields, zap.String("uid", uid))
			}
			if v.Error != nil {
				log.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}

func New(svcs Services, authMw *appmw.AuthMiddleware, log *zap.Logger, sha, buildTime string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(log))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin,
	}))

	orderHandler := handler.NewOrderHandler(svcs.Orders)
	paymentHandler := handler.NewPaymentHandler(svcs.Payments, svcs.Orders, svcs.Poller, log)
	messageHandler := handler.NewMessageHandler(svcs.Messages)
	notificationHandler := handler.NewNotificationHandler(svcs.Notifications)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    sha,
			"build_time": buildTime,
		})
	})

	api := e.Group("/api")
	api.GET("/payment/pesapal/ipn", paymentHandler.IPN)
	api.POST("/payment/pesapal/ipn", paymentHandler.IPN)

	auth := authMw.RequireAuth
	api.POST("/orders", orderHandler.Create, auth)
	api.GET("/me/orders", orderHandler.ListMine, auth)
	api.GET("/me/sales", orderHandler.ListSales, auth)
	api.GET("/orders/:id", orderHandler.Get, auth)
	api.POST("/orders/:id/status/advance", orderHandler.AdvanceStatus, auth)
	api.POST("/orders/:id/payment", paymentHandler.Initiate, auth)
	api.GET("/orders/:id/payment", paymentHandler.Check, auth)
	api.POST("/orders/:id/payment/await", paymentHandler.Await, auth)
	api.GET("/orders/:id/messages", messageHandler.List, auth)
	api.POST("/orders/:id/messages", messageHandler.Post, auth)
	api.GET("/me/notifications", notificationHandler.List, auth)
	api.POST("/me/notifications/read", notificationHandler.MarkAllRead, auth)

	return &Server{e: e, sha: sha, build: buildTime}
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
