package irp

import (
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// decodeEnvelope reads a Registry error body. It tolerates numeric codes,
// nulls and unknown fields; ok is false when the body is not an envelope at all.
func decodeEnvelope(data []byte) (env model.ErrorEnvelope, ok bool) {
	if len(data) == 0 {
		return env, false
	}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return env, false
	}

	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "errorCode":
			env.ErrorCode, err = scalarString(d)
		case "errorMessage":
			env.ErrorMessage, err = scalarString(d)
		case "errorDetails":
			env.ErrorDetails, err = decodeDetails(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		logger.Debugf("malformed error envelope: %v", err)
		return env, false
	}
	return env, env.ErrorCode != "" || env.ErrorMessage != "" || len(env.ErrorDetails) > 0
}

func decodeDetails(d *jx.Decoder) ([]model.ErrorDetail, error) {
	if d.Next() != jx.Array {
		return nil, d.Skip()
	}
	var details []model.ErrorDetail
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		var det model.ErrorDetail
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "errorCode":
				det.ErrorCode, err = scalarString(d)
			case "errorMessage":
				det.ErrorMessage, err = scalarString(d)
			case "errorField":
				det.ErrorField, err = scalarString(d)
			default:
				return d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		details = append(details, det)
		return nil
	})
	return details, err
}

func scalarString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		if b {
			return "true", nil
		}
		return "false", nil
	case jx.Null:
		return "", d.Null()
	case jx.Invalid:
		return "", errors.New("invalid json value")
	}
	return "", d.Skip()
}

func detailsFromEnvelope(env model.ErrorEnvelope) []ErrorDetail {
	if len(env.ErrorDetails) == 0 {
		return nil
	}
	out := make([]ErrorDetail, len(env.ErrorDetails))
	for i, d := range env.ErrorDetails {
		out[i] = ErrorDetail{Code: d.ErrorCode, Message: d.ErrorMessage, Field: d.ErrorField}
	}
	return out
}
