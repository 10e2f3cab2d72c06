package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getAlby/knostr.go/lib/responses"
	"github.com/getAlby/knostr.go/lib/service"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	nostrJSONMimeType = "application/nostr+json"
	// frames above the soft limit are answered with a NOTICE, frames above
	// this multiple of it make gorilla drop the connection
	hardReadLimitFactor = 4
)

// RelayController : serves the relay websocket and the NIP-11 document on /
type RelayController struct {
	svc      *service.RelayService
	info     *InfoController
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewRelayController(svc *service.RelayService) *RelayController {
	return &RelayController{
		svc:      svc,
		info:     NewInfoController(svc),
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (controller *RelayController) Relay(c echo.Context) error {
	if websocket.IsWebSocketUpgrade(c.Request()) {
		return controller.serveWebsocket(c)
	}
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), nostrJSONMimeType) {
		return controller.info.Info(c)
	}
	return c.String(http.StatusOK, "Use a Nostr client or Websocket client to connect")
}

func (controller *RelayController) serveWebsocket(c echo.Context) error {
	ws, err := controller.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		c.Logger().Debugf("Websocket upgrade failed for %s: %v", c.RealIP(), err)
		return nil
	}
	session := newSession(ws, c.RealIP())
	logger := controller.svc.Logger
	logger.Debugf("Session %s opened from %s", session.ID(), session.remoteIP)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer func() {
		cancel()
		controller.svc.Subscriptions.UnsubscribeAll(session)
		session.Close()
		logger.Debugf("Session %s closed", session.ID())
	}()

	if maxLength := controller.svc.Config.MaxMessageLength; maxLength > 0 {
		ws.SetReadLimit(maxLength * hardReadLimitFactor)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go controller.keepalive(ctx, session)

	limiter := newMessageLimiter(controller.svc.Config)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debugf("Session %s read failed: %v", session.ID(), err)
			}
			return nil
		}
		controller.handleMessage(ctx, session, limiter, data)
	}
}

func (controller *RelayController) keepalive(ctx context.Context, session *wsSession) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := session.ping(); err != nil {
				session.Close()
				return
			}
		}
	}
}

func newMessageLimiter(config *service.Config) *rate.Limiter {
	if config.MessageRateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := config.MessageBurstLimit
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(config.MessageRateLimit), burst)
}

// handleMessage processes one inbound frame. Every failure is answered on
// the session and the connection stays open.
func (controller *RelayController) handleMessage(ctx context.Context, session *wsSession, limiter *rate.Limiter, data []byte) {
	svc := controller.svc
	if svc.Limits.IsIPBlocked(session.remoteIP) {
		controller.notice(ctx, session, responses.BlockedNotice("IP blocked"))
		return
	}
	if maxLength := svc.Config.MaxMessageLength; maxLength > 0 && int64(len(data)) > maxLength {
		controller.notice(ctx, session, responses.InvalidNotice("message too large"))
		return
	}
	if !limiter.Allow() {
		controller.notice(ctx, session, responses.RateLimitedNotice("slow down"))
		return
	}

	msg, err := parseClientMessage(data)
	if err != nil {
		controller.notice(ctx, session, responses.Notice(fmt.Sprintf("Unsupported message: %s", data)))
		return
	}

	switch msg.Type {
	case MessageTypeReq:
		controller.handleReq(ctx, session, msg)
	case MessageTypeEvent:
		controller.handleEvent(ctx, session, msg)
	case MessageTypeClose:
		subID, err := msg.subscriptionID()
		if err != nil {
			controller.notice(ctx, session, responses.InvalidNotice(err.Error()))
			return
		}
		svc.Subscriptions.Unsubscribe(subID, session)
	case MessageTypePing:
		controller.notice(ctx, session, responses.Notice("PONG"))
	default:
		controller.notice(ctx, session, responses.Notice(fmt.Sprintf("Unsupported message: %s", msg.Type)))
	}
}

func (controller *RelayController) handleReq(ctx context.Context, session *wsSession, msg *clientMessage) {
	subID, err := msg.subscriptionID()
	if err != nil {
		controller.notice(ctx, session, responses.InvalidNotice(err.Error()))
		return
	}
	filters, err := msg.filters()
	if err != nil {
		controller.notice(ctx, session, responses.InvalidNotice(fmt.Sprintf("malformed filter: %v", err)))
		return
	}
	if notice := service.ValidateFilters(filters); notice != nil {
		controller.notice(ctx, session, notice)
		return
	}
	controller.svc.Subscriptions.Subscribe(ctx, subID, session, filters)
}

func (controller *RelayController) handleEvent(ctx context.Context, session *wsSession, msg *clientMessage) {
	event, err := msg.event()
	if err != nil {
		controller.notice(ctx, session, responses.InvalidNotice(fmt.Sprintf("malformed event: %v", err)))
		return
	}
	if err := controller.validate.Struct(event); err != nil {
		result := responses.Invalid(event.ID, "malformed event")
		controller.svc.Dispatcher.SendNow(ctx, result.JSON(), session)
		return
	}
	controller.svc.SaveEvent(ctx, event, session)
}

func (controller *RelayController) notice(ctx context.Context, session *wsSession, notice *responses.NoticeResult) {
	controller.svc.Dispatcher.SendNow(ctx, notice.JSON(), session)
}
