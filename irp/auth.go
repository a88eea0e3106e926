package irp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
)

// AuthFacade exchanges the configured credentials for a bearer token.
// Auth calls are not counted against the quota and are not retried.
type AuthFacade struct {
	tr      *transport
	cfg     Config
	clock   clockwork.Clock
	request model.AuthRequest
}

func NewAuthFacade(cfg Config, httpClient *http.Client) *AuthFacade {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &AuthFacade{
		tr:    &transport{http: httpClient, baseURL: cfg.ResolvedBaseURL()},
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		request: model.AuthRequest{
			Username:     cfg.Username,
			Password:     cfg.Password,
			TaxID:        cfg.TaxID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},
	}
}

func (f *AuthFacade) Authenticate(ctx context.Context) (*model.AuthResponse, error) {
	body, err := json.Marshal(f.request)
	if err != nil {
		return nil, errors.Wrap(err, "marshal auth request")
	}

	res, err := f.tr.roundTrip(ctx, f.cfg.TimeoutFor(OpAuth), exchange{
		op:     OpAuth,
		method: http.MethodPost,
		path:   model.PathAuth,
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	if !success(res.status) {
		apiErr := statusError(OpAuth, res, f.clock.Now())
		apiErr.Kind = KindAuthentication
		return nil, apiErr
	}

	var out model.AuthResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, &ApiError{Kind: KindAuthentication, Op: OpAuth, Message: "decode auth response", Err: err}
	}
	logger.Debugf("authenticated as %s, token valid for %ds", f.cfg.Username, out.ExpiresIn)
	return &out, nil
}
