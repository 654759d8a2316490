package cookiejar_test

import (
	"net/url"
	"testing"

	"github.com/bramblehttp/httpconn/cookiejar"
	"github.com/stretchr/testify/require"
)

func TestMemoryJarRoundTrip(t *testing.T) {
	t.Parallel()

	jar, err := cookiejar.NewMemoryJar()
	require.NoError(t, err)

	u, err := url.Parse("http://example.test/path")
	require.NoError(t, err)

	require.Equal(t, "", jar.CookieFor(u))

	jar.SetCookies(u, []string{"k=v; Path=/"})
	require.Equal(t, "k=v", jar.CookieFor(u))

	other, err := url.Parse("http://other.test/path")
	require.NoError(t, err)
	require.Equal(t, "", jar.CookieFor(other))
}
