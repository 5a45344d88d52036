package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/repository"
)

const whatsappTimeout = 30 * time.Second

type whatsappTextBody struct {
	Body string `json:"body"`
}

type whatsappMessageRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             whatsappTextBody `json:"text"`
}

type whatsappErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// WhatsAppSender pushes text messages through the WhatsApp Cloud API. The
// per-company access token and phone number id come from the integration
// store at send time, so token rotation needs no restart.
type WhatsAppSender struct {
	http         *resty.Client
	integrations repository.IntegrationRepository
}

func NewWhatsAppSender(graphBaseURL string, integrations repository.IntegrationRepository) *WhatsAppSender {
	http := resty.New().
		SetBaseURL(graphBaseURL).
		SetTimeout(whatsappTimeout).
		SetHeader("Content-Type", "application/json")

	return &WhatsAppSender{http: http, integrations: integrations}
}

// Send posts to {graph}/{phone_number_id}/messages. Provider rejection or
// a missing integration surfaces as an upstream error; the caller decides
// whether delivery failure is fatal for its operation.
func (s *WhatsAppSender) Send(ctx context.Context, out Outbound) error {
	const op = "whatsapp.Send"

	integ, err := s.integrations.GetByCompany(ctx, out.CompanyID)
	if err != nil {
		return apperr.Upstream(op, fmt.Errorf("resolve integration: %w", err))
	}

	var errBody whatsappErrorResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(integ.AccessToken).
		SetBody(whatsappMessageRequest{
			MessagingProduct: "whatsapp",
			To:               out.To,
			Type:             "text",
			Text:             whatsappTextBody{Body: out.Content},
		}).
		SetError(&errBody).
		Post(fmt.Sprintf("/%s/messages", integ.PhoneNumberID))
	if err != nil {
		return apperr.Upstream(op, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if errBody.Error != nil && errBody.Error.Message != "" {
			msg = errBody.Error.Message
		}
		return apperr.Upstream(op, fmt.Errorf("cloud api rejected send: %s", msg))
	}
	return nil
}
