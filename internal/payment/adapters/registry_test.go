package adapters

import (
	"testing"

	"github.com/smallbiznis/penwork/internal/payment/adapters/payhere"
	"github.com/smallbiznis/penwork/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func TestRegistryOpensConfiguredGateway(t *testing.T) {
	r := NewRegistry(payhere.NewFactory(), nil)
	require.Equal(t, []string{"payhere"}, r.Providers())

	adapter, err := r.Open("  PayHere ", domain.AdapterConfig{MerchantID: "1211149", MerchantSecret: "s"})
	require.NoError(t, err)
	require.Equal(t, "payhere", adapter.Provider())

	_, err = r.Open("stripe", domain.AdapterConfig{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)

	require.Error(t, r.Register(payhere.NewFactory()))
}

func TestNilRegistryHasNoProviders(t *testing.T) {
	var r *Registry
	require.Empty(t, r.Providers())
	_, err := r.Open("payhere", domain.AdapterConfig{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}
