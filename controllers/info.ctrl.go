package controllers

import (
	"net/http"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/service"
	"github.com/labstack/echo/v4"
)

const (
	Software = "https://github.com/getAlby/knostr.go"
	Version  = "0.1.0"
)

var SupportedNIPs = []int{1, 9, 11, 12, 15, 16, 20, 50}

// InfoController : NIP-11 relay information document
type InfoController struct {
	svc *service.RelayService
}

func NewInfoController(svc *service.RelayService) *InfoController {
	return &InfoController{svc: svc}
}

type RelayLimitation struct {
	MaxMessageLength int64 `json:"max_message_length"`
	MaxFilters       int   `json:"max_filters"`
	MaxLimit         int   `json:"max_limit"`
	MaxSubIDLength   int   `json:"max_subid_length"`
	AuthRequired     bool  `json:"auth_required"`
	PaymentRequired  bool  `json:"payment_required"`
}

type RelayInformationDocument struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	PubKey        string          `json:"pubkey,omitempty"`
	Contact       string          `json:"contact,omitempty"`
	SupportedNIPs []int           `json:"supported_nips"`
	Software      string          `json:"software"`
	Version       string          `json:"version"`
	Limitation    RelayLimitation `json:"limitation"`
}

func (controller *InfoController) Info(c echo.Context) error {
	config := controller.svc.Config
	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set(echo.HeaderAccessControlAllowHeaders, "*")
	header.Set(echo.HeaderAccessControlAllowMethods, "GET")
	header.Set(echo.HeaderContentType, nostrJSONMimeType)

	return c.JSON(http.StatusOK, &RelayInformationDocument{
		Name:          config.Relay.Name,
		Description:   config.Relay.Description,
		PubKey:        config.Relay.PubKeyHex(),
		Contact:       config.Relay.Contact,
		SupportedNIPs: SupportedNIPs,
		Software:      Software,
		Version:       Version,
		Limitation: RelayLimitation{
			MaxMessageLength: config.MaxMessageLength,
			MaxFilters:       service.MaxFilters,
			MaxLimit:         models.MaxLimit,
			MaxSubIDLength:   MaxSubscriptionIDLength,
		},
	})
}
