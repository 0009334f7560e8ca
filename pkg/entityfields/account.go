package entityfields

import "context"

type accountKey struct{}

// WithAccount returns a context carrying the viewer account
func WithAccount(ctx context.Context, account Account) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFromContext returns the viewer account, the anonymous account when none is set
func AccountFromContext(ctx context.Context) Account {
	if account, ok := ctx.Value(accountKey{}).(Account); ok {
		return account
	}
	return Account{}
}
