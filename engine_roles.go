package identity

import "context"

// AddRole grants a role to the account. Granting a role the account
// already holds is an error, not a no-op, so callers notice double
// grants. Tokens minted before the change keep their old role set until
// they expire.
func (e *Engine) AddRole(ctx context.Context, accountID, role string) error {
	if role == "" {
		return ErrRoleNotAssigned
	}

	_, err := e.updateAccount(ctx, accountID, func(a *Account) error {
		if a.HasRole(role) {
			return ErrRoleAlreadyAssigned
		}
		a.Roles = append(a.Roles, role)
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricRoleMutation)
	e.emitAudit(ctx, auditEventRoleAdded, true, accountID, nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return nil
}

// RemoveRole revokes a role from the account. Removing a role the
// account does not hold is an error.
func (e *Engine) RemoveRole(ctx context.Context, accountID, role string) error {
	if role == "" {
		return ErrRoleNotAssigned
	}

	_, err := e.updateAccount(ctx, accountID, func(a *Account) error {
		for i, r := range a.Roles {
			if r == role {
				a.Roles = append(a.Roles[:i], a.Roles[i+1:]...)
				return nil
			}
		}
		return ErrRoleNotAssigned
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricRoleMutation)
	e.emitAudit(ctx, auditEventRoleRemoved, true, accountID, nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return nil
}

// ListAccountsInRole returns the accounts currently holding role.
func (e *Engine) ListAccountsInRole(ctx context.Context, role string) ([]Account, error) {
	return e.accounts.ListInRole(ctx, role)
}
