package identity

import (
	"context"
	"strconv"

	"github.com/kadvik/identity/internal"
)

// RegenerateBackupCodes issues a fresh set of single-use recovery codes,
// replacing any previous set in full. The plaintext codes are returned
// exactly once; only their digests are stored.
//
// Backup codes exist as a TOTP fallback, so the account must have a
// confirmed enrollment first.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !accountUsable(&account) {
		return nil, ErrAccountNotFound
	}
	if !totpEnrolled(&account) {
		return nil, ErrTOTPNotEnrolled
	}

	count := e.cfg.MFA.BackupCodeCount
	codes := make([]string, 0, count)
	digests := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.cfg.MFA.BackupCodeLength)
		if err != nil {
			return nil, ErrBackupCodesUnavailable
		}
		codes = append(codes, code)
		digests = append(digests, backupCodeDigest(accountID, code))
	}

	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, digests); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.metricInc(MetricBackupCodesIssued)
	e.emitAudit(ctx, auditEventBackupCodesIssued, true, accountID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(count)}
	})
	return codes, nil
}
