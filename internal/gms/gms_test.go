package gms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/pkg/exception"
)

func TestRegisterEachExchange(t *testing.T) {
	g := New()
	for _, exchange := range []core.Exchange{core.ExchangeBinanceCM, core.ExchangeOKX, core.ExchangeDeribit} {
		runner, err := g.Register(gateway.Config{
			Account: core.Account{Exchange: exchange, Name: "main"},
			Key:     "k", Secret: "s", Passphrase: "p",
		})
		require.NoError(t, err)
		require.NotNil(t, runner)
	}
	assert.Len(t, g.Runners(), 3)
}

func TestRegisterDuplicateAccountFails(t *testing.T) {
	g := New()
	account := core.Account{Exchange: core.ExchangeDeribit, Name: "main"}
	_, err := g.Register(gateway.Config{Account: account})
	require.NoError(t, err)
	_, err = g.Register(gateway.Config{Account: account})
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestRegisterUnknownExchangeFails(t *testing.T) {
	g := New()
	_, err := g.Register(gateway.Config{Account: core.Account{Name: "main"}})
	assert.True(t, errors.Is(err, exception.ErrUnknownGateway))
}

func TestRouteToUnknownAccountFails(t *testing.T) {
	g := New()
	account := core.Account{Exchange: core.ExchangeOKX, Name: "nobody"}
	assert.True(t, errors.Is(g.Place(account, 1, core.Order{}), exception.ErrUnknownGateway))
	assert.True(t, errors.Is(g.Cancel(account, 1), exception.ErrUnknownGateway))
	assert.True(t, errors.Is(g.SubscribeFills(account), exception.ErrUnknownGateway))
	assert.False(t, g.IsActive(account))
}
