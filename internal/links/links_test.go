package links

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `
<html><body>
<a href="/sobre">Sobre nós</a>
<a href="/contato">Contato</a>
<a href="/produtos/linha-a">Produtos</a>
<a href="https://facebook.com/acme">Facebook</a>
<a href="https://external.com/about">External</a>
<a href="/catalog.pdf">Catálogo PDF</a>
<a href="#top">Topo</a>
<a href="/a/b/c/d/deep">Too deep</a>
<a href="/careers">Careers</a>
</body></html>
`

func TestExtractFiltersAndRanks(t *testing.T) {
	out, err := Extract([]byte(samplePage), "https://www.example.com/", 5)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	require.Contains(t, out[0], "sobre")

	for _, u := range out {
		require.NotContains(t, u, "facebook.com")
		require.NotContains(t, u, "external.com")
		require.NotContains(t, u, ".pdf")
		require.NotContains(t, u, "/a/b/c/d/deep")
	}
}

func TestExtractCapsAtMaxSubpages(t *testing.T) {
	out, err := Extract([]byte(samplePage), "https://www.example.com/", 2)
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), 2)
}

func TestExtractDropsSelfLink(t *testing.T) {
	page := `<html><body><a href="/">Home</a><a href="/sobre">Sobre</a></body></html>`
	out, err := Extract([]byte(page), "https://www.example.com/", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
