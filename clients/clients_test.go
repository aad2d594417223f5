package clients_test

import (
	"testing"

	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	ct, err := clients.Parse("web")
	require.NoError(t, err)
	require.True(t, ct.IsWeb())

	ct, err = clients.Parse(" Mobile ")
	require.NoError(t, err)
	require.True(t, ct.IsMobile())

	for _, v := range []string{"", "desktop", "webx"} {
		_, err = clients.Parse(v)
		require.ErrorIs(t, err, autherrors.ErrInvalidClientType)
		require.Equal(t, autherrors.KindForbidden, autherrors.KindOf(err))
	}
}
