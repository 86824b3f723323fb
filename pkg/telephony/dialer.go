package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxlane/parley/pkg/errorsx"
	"github.com/voxlane/parley/pkg/logging"
	"github.com/voxlane/parley/pkg/resilience"
)

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	// StreamURL is the websocket endpoint Twilio streams call audio to.
	StreamURL string `mapstructure:"stream_url"`
}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer places outbound calls through the Twilio REST API and points them
// at the engine's media stream. Transient API failures are retried.
type Dialer struct {
	cfg    Config
	client callCreator
	retry  resilience.RetryPolicy
	log    *slog.Logger
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{
		cfg:   cfg,
		retry: resilience.NewRetryPolicy(3, 300*time.Millisecond),
		log:   logging.NewComponentLogger(slog.Default(), "telephony"),
	}
}

// Dial creates an outbound call to the given number and returns the call
// SID, which becomes the conversation's session identifier.
func (d *Dialer) Dial(ctx context.Context, to string) (string, error) {
	_ = ctx
	if to == "" || d.cfg.From == "" {
		return "", errorsx.Wrap(errors.New("to/from required"), errorsx.ReasonDial)
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonDial)
	}
	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		})
		client = rest.Api
	}

	twiml := streamTwiML(d.cfg.StreamURL)
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.cfg.From)
	params.SetTwiml(twiml)

	var sid string
	err := d.retry.Do(func() error {
		resp, err := client.CreateCall(params)
		if err != nil {
			return err
		}
		if resp == nil || resp.Sid == nil {
			return fmt.Errorf("missing call sid")
		}
		sid = *resp.Sid
		return nil
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDial)
	}
	d.log.Info("outbound_call_created", "to", to, "call_sid", sid)
	return sid, nil
}

func streamTwiML(streamURL string) string {
	streamURL = strings.TrimSpace(streamURL)
	if streamURL == "" {
		return "<Response><Say>No stream configured.</Say></Response>"
	}
	return fmt.Sprintf(
		`<Response><Connect><Stream url="%s"/></Connect></Response>`, streamURL)
}
