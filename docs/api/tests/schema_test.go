package tests

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadOpenAPI(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "openapi.yaml"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func TestHostPathsDocumented(t *testing.T) {
	doc := loadOpenAPI(t)
	paths := doc["paths"].(map[string]any)
	want := map[string][]string{
		"/paste":    {"post"},
		"/session":  {"get"},
		"/password": {"get", "post"},
		"/options":  {"post"},
	}
	for path, methods := range want {
		item, ok := paths[path].(map[string]any)
		require.True(t, ok, "%s missing", path)
		for _, method := range methods {
			require.Contains(t, item, method, "%s %s missing", method, path)
		}
	}
}

func TestPSBTEncodingsSchema(t *testing.T) {
	doc := loadOpenAPI(t)
	schemas := doc["components"].(map[string]any)["schemas"].(map[string]any)
	props := schemas["PasteRequest"].(map[string]any)["properties"].(map[string]any)
	variants, ok := props["psbt"].(map[string]any)["oneOf"].([]any)
	require.True(t, ok)
	require.Len(t, variants, 2)

	base64Pattern := regexp.MustCompile(schemas["Base64PSBT"].(map[string]any)["pattern"].(string))
	require.True(t, base64Pattern.MatchString("cHNidP8BAAAA"))
	require.False(t, base64Pattern.MatchString("70736274ff00"))

	hexPattern := regexp.MustCompile(schemas["HexPSBT"].(map[string]any)["pattern"].(string))
	require.True(t, hexPattern.MatchString("70736274ff0100"))
	require.False(t, hexPattern.MatchString("70736274ff0"))
}

func TestErrorResponsesDocumented(t *testing.T) {
	doc := loadOpenAPI(t)
	responses := doc["components"].(map[string]any)["responses"].(map[string]any)
	for _, name := range []string{"InvalidArgument", "Transport", "Unavailable", "PermissionDenied"} {
		require.Contains(t, responses, name)
	}
	paste := doc["paths"].(map[string]any)["/paste"].(map[string]any)["post"].(map[string]any)
	pasteResponses := paste["responses"].(map[string]any)
	require.Contains(t, pasteResponses, "502")
	options := doc["paths"].(map[string]any)["/options"].(map[string]any)["post"].(map[string]any)
	require.Contains(t, options["responses"].(map[string]any), "503")
}

func TestEveryOperationDocumentsForbidden(t *testing.T) {
	doc := loadOpenAPI(t)
	for path, item := range doc["paths"].(map[string]any) {
		for method, op := range item.(map[string]any) {
			responses := op.(map[string]any)["responses"].(map[string]any)
			require.Contains(t, responses, "403", "%s %s", method, path)
		}
	}
	schemes := doc["components"].(map[string]any)["securitySchemes"].(map[string]any)
	require.Equal(t, "bearer", schemes["bearerToken"].(map[string]any)["scheme"])
}
