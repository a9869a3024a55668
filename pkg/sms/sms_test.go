package sms

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

func TestConsoleProvider(t *testing.T) {
	p := NewConsoleProvider()
	ctx := context.Background()

	msg, err := p.Send(ctx, "+447700900123", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.SID)
	assert.Equal(t, "sent", msg.Status)

	got, err := p.Fetch(ctx, msg.SID)
	require.NoError(t, err)
	assert.Equal(t, "delivered", got.Status)

	_, err = p.Fetch(ctx, "SMmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCallWithTimeout(t *testing.T) {
	t.Run("deadline", func(t *testing.T) {
		start := time.Now()
		_, err := callWithTimeout(context.Background(), 20*time.Millisecond, func() (int, error) {
			time.Sleep(time.Second)
			return 1, nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("panic", func(t *testing.T) {
		_, err := callWithTimeout(context.Background(), time.Second, func() (int, error) {
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("value", func(t *testing.T) {
		v, err := callWithTimeout(context.Background(), time.Second, func() (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})
}

func TestTranslateTwilioError(t *testing.T) {
	restErr := &twilioClient.TwilioRestError{Code: 21211, Message: "invalid To number", Status: 400}

	err := translate(fmt.Errorf("wrapped: %w", restErr))
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 400, perr.HTTPStatus)
	assert.Equal(t, 21211, perr.Code)
	assert.Contains(t, perr.Error(), "invalid To number")

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, translate(plain))
}

func TestFromTwilio(t *testing.T) {
	sid, status, price, text := "SM1", "undelivered", "-0.00750", "Unknown destination"
	code := 30005

	msg := fromTwilio(&twilioApi.ApiV2010Message{
		Sid:          &sid,
		Status:       &status,
		Price:        &price,
		ErrorCode:    &code,
		ErrorMessage: &text,
	})
	assert.Equal(t, "SM1", msg.SID)
	assert.Equal(t, "undelivered", msg.Status)
	require.NotNil(t, msg.Price)
	assert.InDelta(t, 0.0075, *msg.Price, 1e-9)
	assert.Equal(t, 30005, msg.ErrorCode)
	assert.Equal(t, "Unknown destination", msg.ErrorText)

	assert.Equal(t, &Message{}, fromTwilio(nil))
}
