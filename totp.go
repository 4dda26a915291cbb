package identity

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpManager wraps pquerna/otp with the engine's provisioning defaults
// and a verification variant that reports which time window matched, so
// the caller can reject replays of the same one-time code.
type totpManager struct {
	issuer    string
	period    uint
	digits    otp.Digits
	skew      uint
	algorithm otp.Algorithm
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{
		issuer:    cfg.Issuer,
		period:    uint(cfg.Period / time.Second),
		digits:    otp.Digits(cfg.Digits),
		skew:      uint(cfg.Skew),
		algorithm: otp.AlgorithmSHA1,
	}
}

// Generate mints a fresh secret and the otpauth:// provisioning URI for
// the given account label.
func (m *totpManager) Generate(accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
		Period:      m.period,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
}

// Verify checks code against secret at time now, tolerating the configured
// number of adjacent windows for clock drift. Each window is validated
// separately so the matched counter is known; the returned counter feeds
// the replay guard. ok is false when no window matches.
func (m *totpManager) Verify(code, secret string, now time.Time) (counter int64, ok bool) {
	period := int64(m.period)
	for offset := -int64(m.skew); offset <= int64(m.skew); offset++ {
		at := now.Add(time.Duration(offset*period) * time.Second)
		valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
			Period:    m.period,
			Skew:      0,
			Digits:    m.digits,
			Algorithm: m.algorithm,
		})
		if err == nil && valid {
			return at.Unix() / period, true
		}
	}
	return 0, false
}
