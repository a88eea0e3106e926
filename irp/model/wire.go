package model

// Registry endpoint paths, relative to the environment base URL.
const (
	PathAuth          = "/eivital/v1.04/auth"
	PathGenerate      = "/eicore/v1.03/Invoice"
	PathCancel        = "/eicore/v1.03/Invoice/Cancel"
	PathByIRN         = "/eicore/v1.03/Invoice/irn/"
	PathByDocument    = "/eicore/v1.03/Invoice/irnbydocdetails"
	HeaderSignature   = "X-Digital-Signature"
	HeaderRequestID   = "X-Request-ID"
	HeaderContentType = "Content-Type"
)

// AuthRequest is sent to the auth endpoint.
type AuthRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	TaxID        string `json:"taxId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// AuthResponse carries the bearer token; ExpiresIn is in seconds.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// RegistrationResponse is returned by generate and both fetch endpoints.
type RegistrationResponse struct {
	Irn           string `json:"irn"`
	AckNo         int64  `json:"ackNo"`
	AckDt         string `json:"ackDt"`
	SignedInvoice string `json:"signedInvoice"`
	SignedQrCode  string `json:"signedQrCode"`
	Status        string `json:"status"`
	EwbNo         *int64 `json:"ewbNo,omitempty"`
	EwbDt         string `json:"ewbDt,omitempty"`
	EwbValidTill  string `json:"ewbValidTill,omitempty"`
}

type CancelRequest struct {
	Irn              string `json:"irn"`
	CancelReasonCode string `json:"cancelReasonCode"`
	Remarks          string `json:"remarks"`
}

type CancelResponse struct {
	Irn        string `json:"irn"`
	CancelDate string `json:"cancelDate"`
	Status     string `json:"status"`
}

// ErrorEnvelope is the body of every non-2xx Registry response.
type ErrorEnvelope struct {
	ErrorCode    string        `json:"errorCode"`
	ErrorMessage string        `json:"errorMessage"`
	ErrorDetails []ErrorDetail `json:"errorDetails,omitempty"`
}

type ErrorDetail struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	ErrorField   string `json:"errorField,omitempty"`
}
