package irp

import (
	"time"

	"github.com/alapierre/go-irp-client/irp/quota"
)

// Health is an operational snapshot of a Client.
type Health struct {
	Authenticated  bool                   `json:"authenticated"`
	TokenState     string                 `json:"tokenState"`
	TokenExpiresAt *time.Time             `json:"tokenExpiresAt,omitempty"`
	Quota          []quota.WindowState    `json:"quota"`
	Config         Config                 `json:"config"`
	BaseURL        string                 `json:"baseUrl"`
	Signature      string                 `json:"signature"`
	WorstCase      map[Operation]Duration `json:"worstCase"`
}

// Duration renders as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Health never performs I/O.
func (c *Client) Health() Health {
	state := c.tokens.State()
	h := Health{
		Authenticated: state == Authenticated,
		TokenState:    state.String(),
		Quota:         c.quota.Snapshot(),
		Config:        c.cfg.Masked(),
		BaseURL:       c.tr.baseURL,
		Signature:     "none",
		WorstCase:     make(map[Operation]Duration, len(Operations)),
	}
	if exp := c.tokens.ExpiresAt(); !exp.IsZero() {
		h.TokenExpiresAt = &exp
	}
	if c.signer != nil {
		h.Signature = c.signer.Name()
	}
	for _, op := range Operations {
		h.WorstCase[op] = Duration(c.WorstCaseDuration(op))
	}
	return h
}
