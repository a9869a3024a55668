package sms

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

type TwilioProvider struct {
	client  *twilio.RestClient
	from    string
	timeout time.Duration
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	return &TwilioProvider{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from:    cfg.From,
		timeout: cfg.Timeout,
	}
}

func (p *TwilioProvider) Send(ctx context.Context, to, body string) (*Message, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(p.from)
	params.SetBody(body)

	resp, err := callWithTimeout(ctx, p.timeout, func() (*twilioApi.ApiV2010Message, error) {
		return p.client.Api.CreateMessage(params)
	})
	if err != nil {
		return nil, translate(err)
	}
	return fromTwilio(resp), nil
}

func (p *TwilioProvider) Fetch(ctx context.Context, sid string) (*Message, error) {
	resp, err := callWithTimeout(ctx, p.timeout, func() (*twilioApi.ApiV2010Message, error) {
		return p.client.Api.FetchMessage(sid, &twilioApi.FetchMessageParams{})
	})
	if err != nil {
		err = translate(err)
		var perr *ProviderError
		if errors.As(err, &perr) && perr.HTTPStatus == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromTwilio(resp), nil
}

func translate(err error) error {
	var restErr *twilioClient.TwilioRestError
	if errors.As(err, &restErr) {
		return &ProviderError{
			HTTPStatus: restErr.Status,
			Code:       restErr.Code,
			Message:    restErr.Message,
		}
	}
	return err
}

func fromTwilio(m *twilioApi.ApiV2010Message) *Message {
	msg := &Message{}
	if m == nil {
		return msg
	}
	if m.Sid != nil {
		msg.SID = *m.Sid
	}
	if m.Status != nil {
		msg.Status = *m.Status
	}
	if m.ErrorCode != nil {
		msg.ErrorCode = *m.ErrorCode
	}
	if m.ErrorMessage != nil {
		msg.ErrorText = *m.ErrorMessage
	}
	// Twilio reports price as a negative decimal string, e.g. "-0.00750".
	if m.Price != nil && *m.Price != "" {
		if v, err := strconv.ParseFloat(*m.Price, 64); err == nil {
			if v < 0 {
				v = -v
			}
			msg.Price = &v
		}
	}
	return msg
}

var _ Provider = (*TwilioProvider)(nil)
